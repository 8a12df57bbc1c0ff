package hotswap

import (
	"strings"

	"github.com/google/uuid"
	"github.com/zot/hotswap/internal/scene"
)

// DeriveID picks a component id for n: its own id, else its style classes
// joined with ".", else a random uuid.
func DeriveID(n *scene.Node) string {
	if n != nil {
		if id := n.ID(); id != "" {
			return id
		}
		if classes := n.StyleClasses(); len(classes) > 0 {
			return strings.Join(classes, ".")
		}
	}
	return uuid.NewString()
}
