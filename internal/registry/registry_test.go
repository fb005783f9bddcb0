package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cogitoerrors "github.com/cogitohq/cogito/pkg/errors"
)

type closeRecorder struct {
	name   string
	closed *[]string
}

func (c *closeRecorder) Close() error {
	*c.closed = append(*c.closed, c.name)
	return nil
}

func TestRegistry_LookupMissing(t *testing.T) {
	r := New(nil)

	_, err := r.Lookup("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cogitoerrors.ErrServiceMissing))
}

func TestRegistry_DuplicateReplaces(t *testing.T) {
	r := New(nil)
	r.Register("cache", "first")
	r.Register("cache", "second")

	svc, err := r.Lookup("cache")
	require.NoError(t, err)
	assert.Equal(t, "second", svc)
	assert.Equal(t, []string{"cache"}, r.Names())
}

func TestRegistry_ShutdownReverseOrder(t *testing.T) {
	r := New(nil)
	var closed []string
	r.Register("a", &closeRecorder{name: "a", closed: &closed})
	r.Register("b", &closeRecorder{name: "b", closed: &closed})
	r.Register("c", &closeRecorder{name: "c", closed: &closed})

	r.Shutdown()

	assert.Equal(t, []string{"c", "b", "a"}, closed)
	_, err := r.Lookup("a")
	assert.Error(t, err)
}

func TestLookupTyped(t *testing.T) {
	r := New(nil)
	r.Register("num", 42)

	n, err := Lookup[int](r, "num")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = Lookup[string](r, "num")
	assert.Error(t, err)
}
