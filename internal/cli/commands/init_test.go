package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/specpipe/internal/reqdoc"
	"github.com/leapstack-labs/specpipe/internal/spec"
)

func TestNewInitCommand(t *testing.T) {
	tests := []struct {
		name      string
		setupDir  func(t *testing.T, dir string) // setup before running
		args      []string
		wantErr   bool
		wantFiles []string
	}{
		{
			name:    "init empty directory",
			args:    []string{},
			wantErr: false,
			wantFiles: []string{
				"specpipe.yaml",
				"requirements.md",
				".gitignore",
			},
		},
		{
			name: "init existing config without force",
			setupDir: func(_ *testing.T, dir string) {
				_ = os.WriteFile(filepath.Join(dir, "specpipe.yaml"), []byte("existing"), 0o600)
			},
			args:    []string{},
			wantErr: true,
		},
		{
			name: "init existing config with force",
			setupDir: func(_ *testing.T, dir string) {
				_ = os.WriteFile(filepath.Join(dir, "specpipe.yaml"), []byte("existing"), 0o600)
			},
			args:    []string{"--force"},
			wantErr: false,
			wantFiles: []string{
				"specpipe.yaml",
				"requirements.md",
			},
		},
		{
			name:    "init example into subdirectory",
			args:    []string{"demo", "--example"},
			wantErr: false,
			wantFiles: []string{
				"demo/specpipe.yaml",
				"demo/requirements/pipeline.md",
				"demo/platforms/trino.star",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			t.Chdir(tmpDir)

			if tt.setupDir != nil {
				tt.setupDir(t, tmpDir)
			}

			cmd := NewInitCommand()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			for _, f := range tt.wantFiles {
				path := filepath.Join(tmpDir, filepath.FromSlash(f))
				_, err := os.Stat(path)
				assert.False(t, os.IsNotExist(err), "expected file/dir %q to exist", f)
			}
			assert.Contains(t, buf.String(), "specpipe project initialized")
		})
	}
}

func TestInitCommandMetadata(t *testing.T) {
	cmd := NewInitCommand()

	assert.Equal(t, "init [directory]", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotNil(t, cmd.Flags().Lookup("force"), "--force flag should exist")
	assert.NotNil(t, cmd.Flags().Lookup("example"), "--example flag should exist")
}

func TestInitCreatesParseableRequirements(t *testing.T) {
	for _, tmpl := range []struct {
		name string
		args []string
		doc  string
	}{
		{name: "minimal", doc: "requirements.md"},
		{name: "example", args: []string{"--example"}, doc: filepath.Join("requirements", "pipeline.md")},
	} {
		t.Run(tmpl.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			t.Chdir(tmpDir)

			cmd := NewInitCommand()
			cmd.SetOut(new(bytes.Buffer))
			cmd.SetErr(new(bytes.Buffer))
			cmd.SetArgs(tmpl.args)
			require.NoError(t, cmd.Execute())

			content, err := os.ReadFile("specpipe.yaml")
			require.NoError(t, err)
			assert.Contains(t, string(content), "platform:")

			doc, err := reqdoc.ParseFile(tmpl.doc, reqdoc.Options{Namespaces: spec.DefaultNamespaces()})
			require.NoError(t, err)
			assert.NotEmpty(t, doc.Models)
		})
	}
}

func TestGroupTemplateFiles(t *testing.T) {
	groups := groupTemplateFiles([]string{
		"specpipe.yaml",
		".gitignore",
		"requirements/pipeline.md",
		"platforms/trino.star",
	})
	assert.Equal(t, []string{"specpipe.yaml", ".gitignore"}, groups["config"])
	assert.Equal(t, []string{"requirements/pipeline.md"}, groups["requirements"])
	assert.Equal(t, []string{"platforms/trino.star"}, groups["platforms"])
}
