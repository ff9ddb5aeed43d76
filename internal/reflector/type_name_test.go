package reflector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type orderPlaced struct{}

func TestNameOf(t *testing.T) {
	tn := NameOf(orderPlaced{})
	require.Equal(t, "orderPlaced", tn.Name)
	require.Equal(t, "github.com/codewandler/evstore/internal/reflector.orderPlaced", tn.Qualified)

	require.Equal(t, tn, NameOf(&orderPlaced{}))
	require.Equal(t, tn, NameFor[*orderPlaced]())

	require.Equal(t, "map[string]interface {}", NameOf(map[string]any{}).Name)
	require.Equal(t, "int", NameOf(1).Qualified)
	require.Equal(t, TypeName{}, NameOf(nil))
}
