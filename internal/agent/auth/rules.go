package auth

import (
	"fmt"
	"strings"
)

// RuleKind 是封闭的校验规则集合，每种规则都是对 token 字符串的纯函数判断。
type RuleKind string

const (
	RuleMinLength     RuleKind = "min_length"
	RuleExactLength   RuleKind = "exact_length"
	RuleHexDigits     RuleKind = "hex_digits"
	RuleBase64Charset RuleKind = "base64_charset"
	RuleAlphanumeric  RuleKind = "alphanumeric"
	RuleKeyValueField RuleKind = "key_value_field"
)

type Rule struct {
	Kind   RuleKind
	Length int    // MinLength / ExactLength
	Key    string // KeyValueField
}

func MinLength(n int) Rule   { return Rule{Kind: RuleMinLength, Length: n} }
func ExactLength(n int) Rule { return Rule{Kind: RuleExactLength, Length: n} }
func HexDigits() Rule        { return Rule{Kind: RuleHexDigits} }
func Base64Charset() Rule    { return Rule{Kind: RuleBase64Charset} }
func Alphanumeric() Rule     { return Rule{Kind: RuleAlphanumeric} }

// KeyValueField 要求 "k1=v1; k2=v2" 形式的复合串里存在 key 且值非空（Cookie 类凭证）。
func KeyValueField(key string) Rule { return Rule{Kind: RuleKeyValueField, Key: key} }

func (r Rule) String() string {
	switch r.Kind {
	case RuleMinLength, RuleExactLength:
		return fmt.Sprintf("%s(%d)", r.Kind, r.Length)
	case RuleKeyValueField:
		return fmt.Sprintf("%s(%s)", r.Kind, r.Key)
	default:
		return string(r.Kind)
	}
}

type ValidationError struct {
	Rule   Rule
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("token 校验失败 [%s]：%s", e.Rule, e.Reason)
}

func (r Rule) Check(token string) error {
	fail := func(format string, args ...any) error {
		return &ValidationError{Rule: r, Reason: fmt.Sprintf(format, args...)}
	}
	switch r.Kind {
	case RuleMinLength:
		if len(token) < r.Length {
			return fail("长度至少 %d，当前 %d", r.Length, len(token))
		}
	case RuleExactLength:
		if len(token) != r.Length {
			return fail("长度必须为 %d，当前 %d", r.Length, len(token))
		}
	case RuleHexDigits:
		if !allBytes(token, isHex) {
			return fail("必须为十六进制")
		}
	case RuleBase64Charset:
		if !allBytes(token, func(c byte) bool { return isAlnum(c) || c == '+' || c == '/' || c == '=' }) {
			return fail("必须为 Base64 字符集")
		}
	case RuleAlphanumeric:
		if !allBytes(token, isAlnum) {
			return fail("只能包含字母和数字")
		}
	case RuleKeyValueField:
		value, found := lookupField(token, r.Key)
		if !found {
			return fail("缺少 %s 字段", r.Key)
		}
		if value == "" {
			return fail("%s 值为空", r.Key)
		}
	default:
		return fail("未知规则")
	}
	return nil
}

// Validate 依次执行全部规则，返回第一个失败。
func Validate(rules []Rule, token string) error {
	for _, r := range rules {
		if err := r.Check(token); err != nil {
			return err
		}
	}
	return nil
}

func lookupField(s, key string) (string, bool) {
	for _, pair := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && strings.TrimSpace(k) == key {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func allBytes(s string, pred func(byte) bool) bool {
	for i := 0; i < len(s); i++ {
		if !pred(s[i]) {
			return false
		}
	}
	return true
}

func isAlnum(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
