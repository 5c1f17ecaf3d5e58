package testutil

import "strings"

// NaughtyStrings holds inputs known to break text handling: blank values,
// delimiters, template syntax, unusual Unicode and injection payloads. The
// set is adapted from the Big List of Naughty Strings
// (https://github.com/minimaxir/big-list-of-naughty-strings).
var NaughtyStrings = naughtyStringSet{
	Empty: []string{
		"", " ", "\t", "null", "NULL", "nil", "undefined", "None",
	},
	Delimiters: []string{
		",", ",,", "\"", "\"\"", "\"a,b\"", "'", ";", "|", "\\", "\\n",
		"a\rb", " ", " ",
	},
	Template: []string{
		"{{", "}}", "{{}}", "{{ name }}", "{{{name}}}", "{{name", "name}}",
		"{{na-me}}", "{{1}}", "{{_}}", "${name}", "{0}", "%s", "%n", "%(name)s",
	},
	Numeric: []string{
		"0", "-0", "1.0", "1e309", "NaN", "Infinity", "-Infinity", "0x1F",
		"999999999999999999999999999999",
	},
	Unicode: []string{
		"ÅÍÎÏ˝ÓÔÒÚÆ☃", "田中さんにあげて下さい", "社會科學院語學研究所",
		"ثم نفس سقطت وبالتحديد،", "בְּרֵאשִׁית", "​", "‏", "‮",
		"\ufeff", "Ṱ̺̺̕o͞ ̷i̲̬͇̪͙n̝̗͕v̟̜̘̦͟o̶̙̰̠kè͚̮̺̪̹̱̤", "😍", "👨‍👩‍👦",
		"🇺🇸🇷🇺", "ｔｈｅ", "𝐓𝐡𝐞",
	},
	Injection: []string{
		"<script>alert(123)</script>", "javascript:alert(1)", "' OR 1=1 --",
		"1;DROP TABLE users", "$(touch /tmp/x)", "`id`", "../../../../etc/passwd",
		"=cmd|' /C calc'!A0", "@SUM(1+1)", "CON", "NUL.csv",
	},
}

type naughtyStringSet struct {
	Empty      []string
	Delimiters []string
	Template   []string
	Numeric    []string
	Unicode    []string
	Injection  []string
}

// All returns every string in the set.
func (n naughtyStringSet) All() []string {
	var all []string
	for _, group := range [][]string{n.Empty, n.Delimiters, n.Template, n.Numeric, n.Unicode, n.Injection} {
		all = append(all, group...)
	}
	return all
}

// SingleLine returns the strings that contain no line break, which is what
// a value inside one CSV line can hold.
func (n naughtyStringSet) SingleLine() []string {
	var out []string
	for _, s := range n.All() {
		if !strings.ContainsAny(s, "\r\n") {
			out = append(out, s)
		}
	}
	return out
}
