package reply

import "strings"

// Render substitutes {send_user_id}, {send_user_name} and {send_message}.
// "{{" and "}}" are literal braces. Any other placeholder or an unbalanced
// brace leaves the template untouched.
func Render(tmpl string, req Request) string {
	vars := map[string]string{
		"send_user_id":   req.SenderID,
		"send_user_name": req.SenderName,
		"send_message":   req.Text,
	}

	var b strings.Builder
	b.Grow(len(tmpl))

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return tmpl
			}
			value, ok := vars[tmpl[i+1:i+1+end]]
			if !ok {
				return tmpl
			}
			b.WriteString(value)
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return tmpl
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
