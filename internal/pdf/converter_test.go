package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docparser/internal/common"
)

// fakeRunner writes the images pdftoppm would have written.
type fakeRunner struct {
	pages  int
	stderr string
	err    error
	args   []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.args = append([]string{name}, args...)
	if f.err != nil {
		return nil, []byte(f.stderr), f.err
	}
	prefix := args[len(args)-1]
	width := len(strconv.Itoa(f.pages))
	for i := 1; i <= f.pages; i++ {
		file := fmt.Sprintf("%s-%0*d.jpg", prefix, width, i)
		if err := os.WriteFile(file, []byte{0xff, 0xd8}, 0o644); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, nil
}

func TestConvertRenamesInPageOrder(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{pages: 12}
	c := NewConverter(Config{DPI: 150}, runner, nil)

	images, err := c.Convert(context.Background(), filepath.Join(dir, "missing.pdf"), filepath.Join(dir, "pages"))
	require.NoError(t, err)
	require.Len(t, images, 12)

	assert.Equal(t, filepath.Join(dir, "pages", "page_0001.jpg"), images[0])
	assert.Equal(t, filepath.Join(dir, "pages", "page_0010.jpg"), images[9])
	assert.Equal(t, filepath.Join(dir, "pages", "page_0012.jpg"), images[11])
	for _, img := range images {
		_, err := os.Stat(img)
		assert.NoError(t, err)
	}
	assert.Equal(t, []string{"pdftoppm", "-r", "150", "-jpeg"}, runner.args[:4])
}

func TestConvertMaxPages(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{pages: 2}
	c := NewConverter(Config{MaxPages: 2}, runner, nil)

	_, err := c.Convert(context.Background(), "in.pdf", dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"pdftoppm", "-r", "300", "-jpeg", "-l", "2", "in.pdf", filepath.Join(dir, "raw")}, runner.args)
}

func TestConvertFailure(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
		want   string
	}{
		{"command error", &fakeRunner{err: errors.New("exit status 1"), stderr: "Syntax Error: Couldn't read xref table\n"}, "exit status 1: Syntax Error: Couldn't read xref table"},
		{"no images", &fakeRunner{pages: 0}, "pdftoppm produced no images"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConverter(Config{}, tt.runner, nil)
			_, err := c.Convert(context.Background(), "in.pdf", t.TempDir())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateRejectsNonPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.pdf")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	err := Validate(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = PageCount(path)
	assert.Error(t, err)
}

func TestPageImageName(t *testing.T) {
	assert.Equal(t, "page_0001.jpg", PageImageName(0))
	assert.Equal(t, "page_0123.jpg", PageImageName(122))
}
