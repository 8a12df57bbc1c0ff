package scene

import (
	"github.com/zot/hotswap/internal/typeid"
)

// Built-in element type names.
const (
	BoxType    = "ui.Box"
	LabelType  = "ui.Label"
	ButtonType = "ui.Button"
)

// builtin is an element type whose nodes carry their arguments as props.
type builtin struct {
	typeid.Named
}

func (b builtin) New(args map[string]any) (*Node, error) {
	n := NewNode(b, args)
	for k, v := range args {
		switch k {
		case "id", "class", "children":
		default:
			n.props[k] = v
		}
	}
	return n, nil
}

var (
	Box    ElementType = builtin{typeid.Named(BoxType)}
	Label  ElementType = builtin{typeid.Named(LabelType)}
	Button ElementType = builtin{typeid.Named(ButtonType)}
)

// Builtins returns the element types every catalog starts with.
func Builtins() []ElementType {
	return []ElementType{Box, Label, Button}
}
