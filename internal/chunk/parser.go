package chunk

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Parser wraps tree-sitter for AST parsing. A Parser is not safe for
// concurrent use; create one per goroutine.
type Parser struct {
	parser   *sitter.Parser
	registry *LanguageRegistry
}

// NewParser creates a new parser with default language registry
func NewParser() *Parser {
	return NewParserWithRegistry(DefaultRegistry())
}

// NewParserWithRegistry creates a new parser with a custom language registry
func NewParserWithRegistry(registry *LanguageRegistry) *Parser {
	return &Parser{
		parser:   sitter.NewParser(),
		registry: registry,
	}
}

// Parse parses source code and returns the AST
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	tsLang, ok := p.registry.GetTreeSitterLanguage(language)
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}

	p.parser.SetLanguage(tsLang)

	tsTree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source: %w", err)
	}
	if tsTree == nil {
		return nil, fmt.Errorf("failed to parse source: nil tree")
	}
	defer tsTree.Close()

	cfg, _ := p.registry.GetByName(language)
	return &Tree{
		Root:     convertNode(tsTree.RootNode(), source, cfg),
		Source:   source,
		Language: language,
	}, nil
}

// Close releases parser resources
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

// convertNode converts a tree-sitter node to our Node type
func convertNode(tsNode *sitter.Node, source []byte, cfg *LanguageConfig) *Node {
	if tsNode == nil {
		return nil
	}

	node := &Node{
		Type:      tsNode.Type(),
		StartByte: tsNode.StartByte(),
		EndByte:   tsNode.EndByte(),
		StartPoint: Point{
			Row:    tsNode.StartPoint().Row,
			Column: tsNode.StartPoint().Column,
		},
		EndPoint: Point{
			Row:    tsNode.EndPoint().Row,
			Column: tsNode.EndPoint().Column,
		},
		HasError: tsNode.HasError(),
		IsNamed:  tsNode.IsNamed(),
		Children: make([]*Node, 0, int(tsNode.ChildCount())),
	}
	node.Name = fieldText(tsNode, source, cfg)

	for i := 0; i < int(tsNode.ChildCount()); i++ {
		if child := tsNode.Child(i); child != nil {
			node.Children = append(node.Children, convertNode(child, source, cfg))
		}
	}

	return node
}

// fieldText returns the text of the "name" field, or of the first
// configured fallback field.
func fieldText(tsNode *sitter.Node, source []byte, cfg *LanguageConfig) string {
	if !tsNode.IsNamed() {
		return ""
	}
	fields := []string{"name"}
	if cfg != nil {
		fields = append(fields, cfg.NameFields...)
	}
	for _, f := range fields {
		if child := tsNode.ChildByFieldName(f); child != nil {
			return child.Content(source)
		}
	}
	return ""
}

// GetContent returns the source content for a node
func (n *Node) GetContent(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// SymbolName returns the node's name, looking one level down for
// declarations that name their specs (go type_declaration, const blocks).
func (n *Node) SymbolName() string {
	if n.Name != "" {
		return n.Name
	}
	for _, child := range n.Children {
		if child.IsNamed && child.Name != "" {
			return child.Name
		}
	}
	return ""
}

// Walk traverses the tree depth-first and calls fn for each node
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
