package dayz_test

import (
	"testing"

	"github.com/dzbrowse/dzbrowse/internal/dayz"
	"github.com/stretchr/testify/require"
)

func TestQueryPortFor(t *testing.T) {
	require.Equal(t, 2303, dayz.QueryPortFor(2302))
	require.Equal(t, 27016, dayz.QueryPortFor(27016))
}

func TestParsePerspective(t *testing.T) {
	require.Equal(t, "1PP", dayz.ParsePerspective("battleye,1pp,isl"))
	require.Equal(t, "3PP", dayz.ParsePerspective("3PP,no3rd"))
	require.Equal(t, "1PP/3PP", dayz.ParsePerspective("1pp,3pp"))
	require.Equal(t, "Unknown", dayz.ParsePerspective("battleye"))
}

func TestAddr(t *testing.T) {
	server := dayz.Server{Address: "1.2.3.4", QueryPort: 2303}
	require.Equal(t, "1.2.3.4:2303", server.Addr())
}
