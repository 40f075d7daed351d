// Package mgmt implements the CA manager: the root owner of all CA state,
// the master/slave cluster lock, restart orchestration, and configuration
// import/export.
package mgmt

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/frestoinc/xipki/internal/ca"
	"github.com/frestoinc/xipki/internal/crypto"
)

// Conf is the manager configuration file.
type Conf struct {
	// Master enables the cluster master role: the manager takes the LOCK
	// system event and runs the schedulers. A slave only serves and watches
	// CA_CHANGE.
	Master bool `yaml:"master"`

	// ShardID parameterises the unique id generator (0..255).
	ShardID int `yaml:"shardId"`

	// StorePath is the cert store database file.
	StorePath string `yaml:"storePath"`

	// LockFile holds the instance's lock-id token (a UUID, created on first
	// start).
	LockFile string `yaml:"lockFile"`

	// AuditLog is the audit log file ("" disables auditing).
	AuditLog string `yaml:"auditLog,omitempty"`

	// CertHashAlgo is stored as DBSCHEMA CERTHASH_ALGO (default SHA256).
	CertHashAlgo string `yaml:"certHashAlgo,omitempty"`

	Profiles    []ProfileEntryConf `yaml:"profiles"`
	Requestors  []RequestorConf    `yaml:"requestors,omitempty"`
	Publishers  []PublisherConf    `yaml:"publishers,omitempty"`
	KeypairGens []KeypairGenConf   `yaml:"keypairGens,omitempty"`
	CAs         []CaEntryConf      `yaml:"cas"`

	// baseDir resolves relative paths; set by LoadConf.
	baseDir string
}

// ProfileEntryConf registers one certificate profile.
type ProfileEntryConf struct {
	Name string `yaml:"name"`
	ID   int    `yaml:"id"`
	File string `yaml:"file"`
}

// RequestorConf registers one authorised requestor.
type RequestorConf struct {
	Name     string `yaml:"name"`
	ID       int    `yaml:"id"`
	CertFile string `yaml:"certFile,omitempty"`
}

// PublisherConf registers one publisher.
type PublisherConf struct {
	Name string `yaml:"name"`
	ID   int    `yaml:"id"`

	// Type selects the implementation; "fs" is built in.
	Type string `yaml:"type"`

	// Directory is the fs publisher's base directory.
	Directory string `yaml:"directory,omitempty"`
}

// KeypairGenConf registers one keypair generator.
type KeypairGenConf struct {
	Name string `yaml:"name"`

	// Type selects the implementation; "software" is built in.
	Type string `yaml:"type"`
}

// CaEntryConf configures one CA.
type CaEntryConf struct {
	Name string `yaml:"name"`
	ID   int    `yaml:"id"`

	CertFile string `yaml:"certFile"`

	// Software signer.
	KeyFile     string `yaml:"keyFile,omitempty"`
	KeyPassword string `yaml:"keyPassword,omitempty"`

	// PKCS#11 signer; used when Token is set.
	Token *crypto.TokenConfig `yaml:"token,omitempty"`

	SignatureAlgorithm string `yaml:"signatureAlgorithm"`
	SignerParallelism  int    `yaml:"signerParallelism,omitempty"`

	ValidityMode string `yaml:"validityMode,omitempty"`
	MaxValidity  string `yaml:"maxValidity,omitempty"`
	Status       string `yaml:"status,omitempty"`

	// NoNewCertificateBefore is how long before the CA's notAfter issuance
	// stops, e.g. "8760h". Empty means the CA's notAfter.
	NoNewCertificateBefore string `yaml:"noNewCertificateBefore,omitempty"`

	CACertURIs   []string `yaml:"cacertUris,omitempty"`
	OCSPURIs     []string `yaml:"ocspUris,omitempty"`
	CRLURIs      []string `yaml:"crlUris,omitempty"`
	DeltaCRLURIs []string `yaml:"deltaCrlUris,omitempty"`

	Profiles   []string `yaml:"profiles,omitempty"`
	Publishers []string `yaml:"publishers,omitempty"`
	Requestors []string `yaml:"requestors,omitempty"`
	Aliases    []string `yaml:"aliases,omitempty"`

	CrlControl *ca.CrlControl `yaml:"crlControl,omitempty"`

	ExtraControl map[string]string `yaml:"extraControl,omitempty"`
}

// LoadConf reads and validates a manager configuration.
func LoadConf(path string) (*Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manager config: %w", err)
	}

	var conf Conf
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, fmt.Errorf("failed to parse manager config: %w", err)
	}

	conf.baseDir = filepath.Dir(path)
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate checks the structural constraints.
func (c *Conf) Validate() error {
	if c.ShardID < 0 || c.ShardID > 0xff {
		return fmt.Errorf("shardId %d out of range [0, 255]", c.ShardID)
	}
	if c.StorePath == "" {
		return fmt.Errorf("storePath is required")
	}
	if c.LockFile == "" {
		return fmt.Errorf("lockFile is required")
	}

	names := make(map[string]bool)
	ids := make(map[int]bool)
	for _, p := range c.Profiles {
		if p.Name == "" || p.File == "" {
			return fmt.Errorf("profile entry requires name and file")
		}
		if names[p.Name] || ids[p.ID] {
			return fmt.Errorf("duplicate profile %q / id %d", p.Name, p.ID)
		}
		names[p.Name] = true
		ids[p.ID] = true
	}

	caNames := make(map[string]bool)
	caIDs := make(map[int]bool)
	for _, entry := range c.CAs {
		if entry.Name == "" || entry.CertFile == "" {
			return fmt.Errorf("CA entry requires name and certFile")
		}
		if caNames[entry.Name] || caIDs[entry.ID] {
			return fmt.Errorf("duplicate CA %q / id %d", entry.Name, entry.ID)
		}
		caNames[entry.Name] = true
		caIDs[entry.ID] = true
		if entry.KeyFile == "" && entry.Token == nil {
			return fmt.Errorf("CA %s requires keyFile or token", entry.Name)
		}
	}
	return nil
}

// Resolve turns a possibly relative path into an absolute one anchored at
// the config file's directory.
func (c *Conf) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.baseDir, path)
}

// parseDuration accepts Go durations plus the "Nd" day suffix.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if last := s[len(s)-1]; last == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
