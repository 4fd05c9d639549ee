package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither a profile nor a flag sets a value.
const (
	DefaultNamespace = `root\cimv2`
	DefaultTimeout   = 30 * time.Second
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML parses values such as "45s" or "2m".
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid timeout %q: %w", node.Line, s, err)
	}
	if v <= 0 {
		return fmt.Errorf("line %d: timeout must be positive, got %q", node.Line, s)
	}
	*d = Duration(v)
	return nil
}

// Profile is a named connection target.
type Profile struct {
	Host        string   `yaml:"host"`
	Namespace   string   `yaml:"namespace"`
	Username    string   `yaml:"username"`
	PasswordEnv string   `yaml:"password_env"`
	Timeout     Duration `yaml:"timeout"`
}

// profileFile keeps each profile undecoded so a bad entry only fails when
// it is selected.
type profileFile struct {
	Profiles map[string]yaml.Node `yaml:"profiles"`
}

// LoadProfile reads the named profile from a YAML file of the form
//
//	profiles:
//	  prod:
//	    host: server01
//	    namespace: root\cimv2
//	    username: CORP\admin
//	    password_env: WMI_PASSWORD
//	    timeout: 45s
func LoadProfile(path, name string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	node, ok := f.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile %q not found in %s", name, path)
	}
	var p Profile
	if err := node.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse profile %q in %s: %w", name, path, err)
	}
	return &p, nil
}

// Resource returns \\host\namespace, or the bare namespace when no host is
// set.
func (p *Profile) Resource() string {
	ns := p.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	ns = strings.TrimLeft(ns, `\/`)
	if p.Host == "" {
		return ns
	}
	return `\\` + p.Host + `\` + ns
}

// Secret reads the password from the environment variable named by
// PasswordEnv. It returns nil when no variable is configured.
func (p *Profile) Secret() ([]byte, error) {
	if p.PasswordEnv == "" {
		return nil, nil
	}
	v, ok := os.LookupEnv(p.PasswordEnv)
	if !ok {
		return nil, fmt.Errorf("password variable %s is not set", p.PasswordEnv)
	}
	return []byte(v), nil
}

// TimeoutOrDefault returns the configured timeout or DefaultTimeout.
func (p *Profile) TimeoutOrDefault() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return time.Duration(p.Timeout)
}
