package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const defaultConfig = `
root:				/data/replica
site_id:			3
passphrase_file:	/data/secret
remote:
  name:	origin
  url:	https://git.example.com/kv.git
`

func checkValue(t *testing.T, fieldname string, val string, expected string) {
	if val != expected {
		t.Fatalf("Error parsing %s, expected '%v' got '%v'", fieldname, expected, val)
	}
}

func loadOrFail(t *testing.T, content string) *Config {
	cfg, err := LoadConfigString([]byte(content))
	if err != nil {
		t.Fatalf("Failed to read config: %v", err.Error())
	}
	return cfg
}

func TestValidConfig(t *testing.T) {
	cfg := loadOrFail(t, defaultConfig)
	checkValue(t, "Root", cfg.Root, "/data/replica")
	checkValue(t, "PassphraseFile", cfg.PassphraseFile, "/data/secret")
	checkValue(t, "Remote.Name", cfg.Remote.Name, "origin")
	checkValue(t, "Remote.URL", cfg.Remote.URL, "https://git.example.com/kv.git")
	assert.Equal(t, uint64(3), cfg.SiteID)
}

func TestDefaults(t *testing.T) {
	cfg := loadOrFail(t, "site_id: 1")
	checkValue(t, "Root", cfg.Root, ".")
	checkValue(t, "Remote.Name", cfg.Remote.Name, DefaultRemoteName)
	checkValue(t, "Remote.URL", cfg.Remote.URL, "")
}

func TestMissingSiteID(t *testing.T) {
	_, err := LoadConfigString([]byte("root: /data"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "site_id")
}

func TestRemoteURLWithoutName(t *testing.T) {
	const config = `
site_id: 1
remote:
  name:	""
  url:	https://git.example.com/kv.git
`
	_, err := LoadConfigString([]byte(config))
	assert.Error(t, err)
}

func TestCredentialsMustPair(t *testing.T) {
	const config = `
site_id: 1
remote:
  url:	https://git.example.com/kv.git
  user:	bob
`
	_, err := LoadConfigString([]byte(config))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "remote.user")
}
