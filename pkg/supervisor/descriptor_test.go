package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDescriptor(name string, port int) Descriptor {
	return Descriptor{
		Name:      name,
		Transport: "http",
		Command:   "python3",
		Args:      []string{"-m", name},
		Port:      port,
	}
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	d := testDescriptor("youtube_search", 9001)

	require.NoError(t, r.Register(d))
	require.NoError(t, r.Register(d))

	assert.Len(t, r.List(), 1)
}

func TestRegistry_RejectsDuplicatePort(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testDescriptor("youtube_search", 9001)))

	err := r.Register(testDescriptor("web_search", 9001))
	require.Error(t, err)

	var conflict *PortConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 9001, conflict.Port)
	assert.Equal(t, "youtube_search", conflict.Owner)
}

func TestRegistry_DescribeUnknownHandler(t *testing.T) {
	r := NewRegistry()
	_, err := r.Describe("nope")
	assert.ErrorIs(t, err, ErrHandlerNotFound)
}

func TestRegistry_DefaultsHealthPath(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testDescriptor("kocw_search", 9002)))

	d, err := r.Describe("kocw_search")
	require.NoError(t, err)
	assert.Equal(t, "/health", d.HealthPath)
}

func TestRegistry_ListIsSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testDescriptor("web_search", 9003)))
	require.NoError(t, r.Register(testDescriptor("kocw_search", 9004)))
	require.NoError(t, r.Register(testDescriptor("youtube_search", 9005)))

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "kocw_search", list[0].Name)
	assert.Equal(t, "web_search", list[1].Name)
	assert.Equal(t, "youtube_search", list[2].Name)
}

func TestLoadDescriptors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "handlers.yaml")
	contents := `handlers:
  - name: youtube_search
    transport: http
    command: python3
    args: ["-m", "youtube_search_mcp"]
    port: 9101
    health_path: /health
  - name: web_search
    transport: http
    command: python3
    args: ["-m", "naver_search_mcp"]
    port: 9102
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	descriptors, err := LoadDescriptors(path)
	require.NoError(t, err)
	require.Len(t, descriptors, 2)
	assert.Equal(t, "youtube_search", descriptors[0].Name)
	assert.Equal(t, 9102, descriptors[1].Port)
}

func TestRegistry_Groups(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testDescriptor("youtube_search", 9001)))

	r.CreateGroup("search")
	require.NoError(t, r.AddToGroup("search", "youtube_search"))

	members, err := r.Group("search")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "youtube_search", members[0].Name)

	r.DeleteGroup(DefaultGroup)
	all, err := r.Group(DefaultGroup)
	require.NoError(t, err, "default group must survive deletion")
	assert.Len(t, all, 1)

	r.DeleteGroup("search")
	_, err = r.Group("search")
	assert.Error(t, err)
}
