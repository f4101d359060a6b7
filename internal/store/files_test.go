package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/cpe-emitter/internal/model"
	"github.com/rezonia/cpe-emitter/internal/store"
)

func TestFileStore(t *testing.T) {
	root := t.TempDir()
	fs, err := store.NewFileStore(root)
	require.NoError(t, err)

	name := "20123456789-01-F001-00000042"
	owner := model.DocumentOwner(7)
	require.NoError(t, fs.SaveSigned(name, owner, []byte("<Invoice/>")))
	require.NoError(t, fs.SaveResponse(name, []byte("PK")))

	signed, err := fs.LoadSigned(name, owner)
	require.NoError(t, err)
	assert.Equal(t, "<Invoice/>", string(signed))

	_, err = os.Stat(filepath.Join(root, "xml", name+".xml"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "cdr", "R-"+name+".zip"))
	assert.NoError(t, err)

	response, err := fs.LoadResponse(name)
	require.NoError(t, err)
	assert.Equal(t, "PK", string(response))

	// the owner may re-sign its own artifact
	require.NoError(t, fs.SaveSigned(name, owner, []byte("<Invoice>v2</Invoice>")))
	signed, err = fs.LoadSigned(name, owner)
	require.NoError(t, err)
	assert.Equal(t, "<Invoice>v2</Invoice>", string(signed))

	entries, err := os.ReadDir(filepath.Join(root, "xml"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{name + ".xml", name + ".owner"}, names, "no temp files left behind")
}

func TestFileStore_ForeignOwner(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	name := "20123456789-03-B001-00000042"
	require.NoError(t, fs.SaveSigned(name, model.DocumentOwner(1), []byte("<Invoice>A</Invoice>")))

	err = fs.SaveSigned(name, model.DocumentOwner(2), []byte("<Invoice>B</Invoice>"))
	require.Error(t, err)
	assert.Equal(t, model.KindConflict, model.KindOf(err))
	var de *model.DuplicateError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, model.DocumentOwner(1), de.Owner)

	_, err = fs.LoadSigned(name, model.DocumentOwner(2))
	assert.Equal(t, model.KindConflict, model.KindOf(err), "another document never reuses the artifact")

	signed, err := fs.LoadSigned(name, model.DocumentOwner(1))
	require.NoError(t, err)
	assert.Equal(t, "<Invoice>A</Invoice>", string(signed), "first owner's XML is kept")
}

func TestFileStore_Failures(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = fs.LoadSigned("20123456789-01-F001-00000001", model.DocumentOwner(1))
	assert.Equal(t, model.KindNotFound, model.KindOf(err))

	err = fs.SaveSigned("../escape", model.DocumentOwner(1), []byte("x"))
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	err = fs.SaveSigned("20123456789-01-F001-00000001", "", []byte("x"))
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	_, err = store.NewFileStore("")
	assert.Error(t, err)
}
