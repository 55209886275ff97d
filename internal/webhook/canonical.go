package webhook

import (
	"math"
	"strconv"
	"strings"
)

// Canonicalize renders an object as the signing string the gateway
// computes: members sorted by key, each written as
// escape(key)=escape(stringify(value)) and joined by "&".  Null renders
// empty; arrays and objects are JSON with keys sorted at every depth.
// Non-object values canonicalize to "".
func Canonicalize(v Value) string {
	if v.kind != KindObject {
		return ""
	}
	var sb strings.Builder
	for i, k := range v.Keys() {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(escapeComponent(k))
		sb.WriteByte('=')
		sb.WriteString(escapeComponent(stringify(v.obj[k])))
	}
	return sb.String()
}

// stringify renders a member value before escaping.
func stringify(v Value) string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return jsNumber(v.num.String())
	default:
		var sb strings.Builder
		writeJSON(&sb, v)
		return sb.String()
	}
}

// writeJSON writes v as compact JSON in the form JSON.stringify produces
// for a key-sorted copy of it.
func writeJSON(sb *strings.Builder, v Value) {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		sb.WriteString(jsNumber(v.num.String()))
	case KindString:
		writeJSONString(sb, v.str)
	case KindArray:
		sb.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeJSON(sb, e)
		}
		sb.WriteByte(']')
	case KindObject:
		sb.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeJSONString(sb, k)
			sb.WriteByte(':')
			writeJSON(sb, v.obj[k])
		}
		sb.WriteByte('}')
	}
}

const lowerHex = "0123456789abcdef"

// writeJSONString quotes s the way JSON.stringify does: only quote,
// backslash and control characters are escaped; HTML characters and
// non-ASCII text are written as is.
func writeJSONString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if c < 0x20 {
				sb.WriteString(`\u00`)
				sb.WriteByte(lowerHex[c>>4])
				sb.WriteByte(lowerHex[c&0xf])
				continue
			}
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
}

const upperHex = "0123456789ABCDEF"

// escapeComponent percent-encodes every UTF-8 byte except the characters
// encodeURIComponent leaves alone: A-Z a-z 0-9 - _ . ! ~ * ' ( ).
func escapeComponent(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(upperHex[c>>4])
		sb.WriteByte(upperHex[c&0xf])
	}
	return sb.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

// jsNumber formats a JSON number literal the way a JavaScript engine
// prints the parsed double, e.g. "1.50" -> "1.5", "1e21" -> "1e+21".
func jsNumber(lit string) string {
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil && !math.IsInf(f, 0) {
		return lit
	}
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	sign := ""
	if f < 0 {
		sign = "-"
		f = -f
	}
	// Shortest round-trip digits d1.d2...dk and exponent e, value = 0.d1...dk * 10^n with n = e+1.
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	mant, expPart, _ := strings.Cut(sci, "e")
	digits := strings.Replace(mant, ".", "", 1)
	exp, _ := strconv.Atoi(expPart)
	k := len(digits)
	n := exp + 1

	switch {
	case k <= n && n <= 21:
		return sign + digits + strings.Repeat("0", n-k)
	case 0 < n && n <= 21:
		return sign + digits[:n] + "." + digits[n:]
	case -6 < n && n <= 0:
		return sign + "0." + strings.Repeat("0", -n) + digits
	}
	e := n - 1
	es := "+" + strconv.Itoa(e)
	if e < 0 {
		es = strconv.Itoa(e)
	}
	if k == 1 {
		return sign + digits + "e" + es
	}
	return sign + digits[:1] + "." + digits[1:] + "e" + es
}
