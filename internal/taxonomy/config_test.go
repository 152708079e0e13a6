package taxonomy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "metaline.yaml")

	content := `
tags:
  - name: P1
    description: Personal data of low criticality
  - name: P2
    description: Personal data of medium criticality
  - name: S1
    description: Strategic data of low criticality
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Len(t, cfg.Tags, 3)
	assert.Equal(t, "P1", cfg.Tags[0].Name)
	assert.Equal(t, "Personal data of low criticality", cfg.Tags[0].Description)
	assert.Equal(t, "S1", cfg.Tags[2].Name)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/metaline.yaml")

	// Missing file means an empty tag set, not a startup failure
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.Tags)
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "metaline.yaml")

	err := os.WriteFile(configPath, []byte(""), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	assert.Empty(t, cfg.Tags)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "metaline.yaml")

	content := `
tags:
  - name: [invalid yaml
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	_, err = LoadConfig(configPath)

	// Unlike a missing file, a broken file is a configuration error
	require.Error(t, err)
}

func TestLoadConfigFromEnv_CustomPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "custom.yaml")

	content := `
tags:
  - name: V1
    description: Vital data of low criticality
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	t.Setenv(ConfigPathEnvVar, configPath)

	cfg, err := LoadConfigFromEnv()

	require.NoError(t, err)
	assert.Len(t, cfg.Tags, 1)
	assert.Equal(t, "V1", cfg.Tags[0].Name)
}

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]Tag{
		{Name: "P1", Description: "first"},
		{Name: "P1", Description: "second"},
	})

	require.ErrorIs(t, err, ErrDuplicateTag)
}

func TestNewRegistry_RejectsEmptyName(t *testing.T) {
	_, err := NewRegistry([]Tag{{Name: "", Description: "nameless"}})

	require.ErrorIs(t, err, ErrEmptyTagName)
}

func TestRegistry_Validate(t *testing.T) {
	registry, err := NewRegistry([]Tag{
		{Name: "P1"},
		{Name: "P2"},
		{Name: "S1"},
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   []string
		wantErr error
		unknown string
	}{
		{"all known", []string{"P1", "P2"}, nil, ""},
		{"empty set", nil, nil, ""},
		{"single unknown", []string{"P9"}, ErrUnknownTag, "P9"},
		{"first unknown reported", []string{"P1", "X1", "Y1"}, ErrUnknownTag, "X1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.Validate(tt.input)

			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), tt.unknown)
		})
	}
}

func TestRegistry_GetAndList(t *testing.T) {
	registry, err := NewRegistry([]Tag{
		{Name: "V2", Description: "vital, medium"},
		{Name: "P1", Description: "personal, low"},
	})
	require.NoError(t, err)

	tag, ok := registry.Get("V2")
	require.True(t, ok)
	assert.Equal(t, "vital, medium", tag.Description)

	_, ok = registry.Get("V9")
	assert.False(t, ok)

	list := registry.List()
	require.Len(t, list, 2)
	assert.Equal(t, "P1", list[0].Name) // sorted by name
	assert.Equal(t, "V2", list[1].Name)
	assert.Equal(t, 2, registry.Len())
}
