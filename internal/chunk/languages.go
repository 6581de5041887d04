package chunk

import (
	"path"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageRegistry manages supported languages and their configurations
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig // keyed by language name
	extToLang   map[string]string          // extension -> language name
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry creates a new registry with default language configurations
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}

	r.registerGo()
	r.registerTypeScript()
	r.registerJavaScript()
	r.registerPython()
	r.registerRust()
	r.registerRuby()

	return r
}

// GetByExtension returns the language configuration for a file extension
func (r *LanguageRegistry) GetByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	langName, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}

	config, ok := r.configs[langName]
	return config, ok
}

// GetByName returns the language configuration by name
func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, ok := r.configs[name]
	return config, ok
}

// GetTreeSitterLanguage returns the tree-sitter language for a language name
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// registerLanguage adds a language to the registry
func (r *LanguageRegistry) registerLanguage(config *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[config.Name] = config
	r.tsLanguages[config.Name] = tsLang

	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

func (r *LanguageRegistry) registerGo() {
	config := &LanguageConfig{
		Name:       "go",
		Extensions: []string{".go"},
		SymbolTypes: map[string]ElementKind{
			"function_declaration": KindFunction,
			"method_declaration":   KindMethod,
			"type_declaration":     KindType,
			"const_declaration":    KindConstant,
			"var_declaration":      KindVariable,
		},
		Prelude: []string{"comment"},
	}

	r.registerLanguage(config, golang.GetLanguage())
}

func (r *LanguageRegistry) registerTypeScript() {
	symbols := map[string]ElementKind{
		"function_declaration":           KindFunction,
		"generator_function_declaration": KindFunction,
		"class_declaration":              KindClass,
		"abstract_class_declaration":     KindClass,
		"interface_declaration":          KindInterface,
		"type_alias_declaration":         KindType,
		"enum_declaration":               KindEnum,
		"internal_module":                KindModule,
		"lexical_declaration":            KindVariable,
	}

	tsConfig := &LanguageConfig{
		Name:        "typescript",
		Extensions:  []string{".ts", ".mts", ".cts"},
		SymbolTypes: symbols,
		Wrappers:    []string{"export_statement"},
		Prelude:     []string{"comment"},
	}
	r.registerLanguage(tsConfig, typescript.GetLanguage())

	tsxConfig := *tsConfig
	tsxConfig.Name = "tsx"
	tsxConfig.Extensions = []string{".tsx"}
	r.registerLanguage(&tsxConfig, tsx.GetLanguage())
}

func (r *LanguageRegistry) registerJavaScript() {
	jsConfig := &LanguageConfig{
		Name:       "javascript",
		Extensions: []string{".js", ".mjs", ".cjs"},
		SymbolTypes: map[string]ElementKind{
			"function_declaration":           KindFunction,
			"generator_function_declaration": KindFunction,
			"class_declaration":              KindClass,
			"lexical_declaration":            KindVariable,
			"variable_declaration":           KindVariable,
		},
		Wrappers: []string{"export_statement"},
		Prelude:  []string{"comment"},
	}
	r.registerLanguage(jsConfig, javascript.GetLanguage())

	// JSX uses the JavaScript grammar
	jsxConfig := *jsConfig
	jsxConfig.Name = "jsx"
	jsxConfig.Extensions = []string{".jsx"}
	r.registerLanguage(&jsxConfig, javascript.GetLanguage())
}

func (r *LanguageRegistry) registerPython() {
	config := &LanguageConfig{
		Name:       "python",
		Extensions: []string{".py", ".pyi"},
		SymbolTypes: map[string]ElementKind{
			"function_definition": KindFunction,
			"class_definition":    KindClass,
		},
		Wrappers: []string{"decorated_definition"},
		Prelude:  []string{"comment"},
	}
	r.registerLanguage(config, python.GetLanguage())
}

func (r *LanguageRegistry) registerRust() {
	config := &LanguageConfig{
		Name:       "rust",
		Extensions: []string{".rs"},
		SymbolTypes: map[string]ElementKind{
			"function_item":    KindFunction,
			"struct_item":      KindStruct,
			"enum_item":        KindEnum,
			"union_item":       KindStruct,
			"trait_item":       KindTrait,
			"impl_item":        KindImpl,
			"mod_item":         KindModule,
			"const_item":       KindConstant,
			"static_item":      KindConstant,
			"type_item":        KindType,
			"macro_definition": KindMacro,
		},
		NameFields: []string{"type"},
		Prelude:    []string{"line_comment", "block_comment", "attribute_item"},
	}
	r.registerLanguage(config, rust.GetLanguage())
}

func (r *LanguageRegistry) registerRuby() {
	config := &LanguageConfig{
		Name:       "ruby",
		Extensions: []string{".rb", ".rake", ".gemspec"},
		SymbolTypes: map[string]ElementKind{
			"method":           KindMethod,
			"singleton_method": KindMethod,
			"class":            KindClass,
			"singleton_class":  KindClass,
			"module":           KindModule,
		},
		NameFields: []string{"value"},
		Prelude:    []string{"comment"},
	}
	r.registerLanguage(config, ruby.GetLanguage())
}

// defaultRegistry is the global language registry
var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the global language registry
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}

// plainLanguages names languages without a structural grammar; their files
// are window-chunked but still carry a language in the payload.
var plainLanguages = map[string]string{
	".java":     "java",
	".kt":       "kotlin",
	".c":        "c",
	".h":        "c",
	".cc":       "cpp",
	".cpp":      "cpp",
	".hpp":      "cpp",
	".cs":       "csharp",
	".php":      "php",
	".swift":    "swift",
	".scala":    "scala",
	".sh":       "shell",
	".bash":     "shell",
	".zsh":      "shell",
	".sql":      "sql",
	".md":       "markdown",
	".markdown": "markdown",
	".mdx":      "markdown",
	".rst":      "rst",
	".txt":      "text",
	".yaml":     "yaml",
	".yml":      "yaml",
	".toml":     "toml",
	".json":     "json",
	".xml":      "xml",
	".html":     "html",
	".css":      "css",
	".proto":    "protobuf",
}

var plainFilenames = map[string]string{
	"Makefile":   "make",
	"Dockerfile": "dockerfile",
	"Cargo.lock": "toml",
	"Rakefile":   "ruby",
	"Gemfile":    "ruby",
	"go.mod":     "gomod",
}

// DetectLanguage returns the language of a path from its extension or
// well-known file name, or "" when unknown.
func DetectLanguage(p string) string {
	base := path.Base(p)
	if lang, ok := plainFilenames[base]; ok {
		return lang
	}
	ext := strings.ToLower(path.Ext(base))
	if ext == "" {
		return ""
	}
	if cfg, ok := defaultRegistry.GetByExtension(ext); ok {
		return cfg.Name
	}
	return plainLanguages[ext]
}
