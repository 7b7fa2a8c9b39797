package config

// StripJSONComments removes // and /* */ comments from JSONC content.
// Comment markers inside string literals are left untouched.
func StripJSONComments(data []byte) []byte {
	out := make([]byte, 0, len(data))

	inString := false
	for i := 0; i < len(data); i++ {
		c := data[i]

		if c == '"' && (i == 0 || data[i-1] != '\\') {
			inString = !inString
			out = append(out, c)
			continue
		}
		if inString || c != '/' || i+1 >= len(data) {
			out = append(out, c)
			continue
		}

		switch data[i+1] {
		case '/':
			for i < len(data) && data[i] != '\n' {
				i++
			}
			if i < len(data) {
				out = append(out, '\n')
			}
		case '*':
			i += 2
			for i+1 < len(data) && !(data[i] == '*' && data[i+1] == '/') {
				i++
			}
			i++ // skip the closing slash
		default:
			out = append(out, c)
		}
	}

	return out
}
