package gitsource

import (
	"fmt"
	"os"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"datum-hq/soe/pkg/config"
)

// Auth supplies transport credentials for clone and pull.
type Auth interface {
	// Method returns the go-git transport auth, nil for anonymous access.
	Method() (transport.AuthMethod, error)

	// Type names the auth kind for logging.
	Type() string
}

type tokenAuth struct {
	token string
}

func (a tokenAuth) Method() (transport.AuthMethod, error) {
	if a.token == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}
	// Hosting providers ignore the username when a token is the password.
	return &http.BasicAuth{Username: "git", Password: a.token}, nil
}

func (tokenAuth) Type() string { return "token" }

type sshAuth struct {
	keyPath    string
	passphrase string
}

func (a sshAuth) Method() (transport.AuthMethod, error) {
	info, err := os.Stat(a.keyPath)
	if err != nil {
		return nil, fmt.Errorf("ssh key: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return nil, fmt.Errorf("ssh key %s permissions too open (%o), want 0600", a.keyPath, mode)
	}

	keys, err := ssh.NewPublicKeysFromFile("git", a.keyPath, a.passphrase)
	if err != nil {
		return nil, fmt.Errorf("load ssh key: %w", err)
	}
	return keys, nil
}

func (sshAuth) Type() string { return "ssh" }

type noAuth struct{}

func (noAuth) Method() (transport.AuthMethod, error) { return nil, nil }

func (noAuth) Type() string { return "none" }

// NewAuth builds the Auth named by cfg.Type.
func NewAuth(cfg config.GitAuthConfig) (Auth, error) {
	switch cfg.Type {
	case "token":
		if cfg.Token == "" {
			return nil, fmt.Errorf("token auth requires a token")
		}
		return tokenAuth{token: cfg.Token}, nil
	case "ssh":
		if cfg.SSHKeyPath == "" {
			return nil, fmt.Errorf("ssh auth requires ssh_key_path")
		}
		return sshAuth{keyPath: cfg.SSHKeyPath, passphrase: cfg.SSHKeyPassphrase}, nil
	case "none", "":
		return noAuth{}, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}
}
