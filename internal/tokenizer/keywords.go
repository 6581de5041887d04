package tokenizer

// keywords is the union of reserved words shared by the languages we index
// (go, rust, python, javascript/typescript, java, c/cpp). Words that are
// also common identifiers in code or search queries (type, map, new, select,
// match, range, error) are left out so they still count as terms.
var keywords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		// control flow
		"if", "else", "elif", "for", "while", "do", "loop", "switch", "case",
		"default", "break", "continue", "return", "goto", "fallthrough",
		"try", "catch", "finally", "throw", "throws", "raise", "except",
		"yield", "await", "async", "defer", "go",

		// declarations
		"fn", "func", "function", "def", "lambda", "let", "var", "const",
		"static", "mut", "pub", "public", "private", "protected", "final",
		"abstract", "struct", "class", "enum", "trait", "impl", "interface",
		"extends", "implements", "typedef", "union", "extern", "unsafe",
		"dyn", "where", "crate", "mod", "package", "import", "from", "export",
		"use", "namespace", "virtual", "override", "inline", "volatile",
		"synchronized", "transient", "native", "readonly", "declare",

		// operators spelled as words
		"as", "in", "is", "not", "and", "or", "typeof", "instanceof",
		"sizeof", "keyof",

		// values
		"true", "false", "nil", "null", "none", "undefined", "void",
		"self", "this", "super",

		// python statements
		"pass", "del", "global", "nonlocal", "assert", "with",
	} {
		keywords[w] = struct{}{}
	}
}

// IsKeyword reports whether the lowercased word is a reserved word.
func IsKeyword(lower string) bool {
	_, ok := keywords[lower]
	return ok
}
