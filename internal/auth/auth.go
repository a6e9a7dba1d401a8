// Package auth admits clients: it checks the server password, issues signed
// connect tokens and rate limits attempts per address.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
)

const (
	tokenExpiry = 24 * time.Hour
	hashCost    = 10
	minNameLen  = 1
	maxNameLen  = 16
	rateWindow  = 60 * time.Second
	maxAttempts = 10
	secretLen   = 32
	secretKey   = "token_secret"
	tokenIssuer = "q2sync"
	guestPrefix = "player_"
)

var (
	ErrBadPassword = errors.New("bad server password")
	ErrBadName     = errors.New("bad player name")
	ErrBadToken    = errors.New("invalid connect token")
	ErrRateLimited = errors.New("too many attempts, try again later")
)

// Settings persists the token secret across restarts. store.DB implements it.
type Settings interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

// Claims is the payload of a connect token.
type Claims struct {
	Name    string        `json:"usr"`
	Profile proto.Profile `json:"prf"`
	jwt.RegisteredClaims
}

// Auth handles admission.
type Auth struct {
	secret   []byte
	passHash []byte
	log      *slog.Logger
	now      func() time.Time

	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

// New builds an Auth. An empty password admits everyone; an empty secret
// loads or creates one through settings (which may be nil).
func New(password, secret string, settings Settings, log *slog.Logger) (*Auth, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &Auth{
		log:     log.With("component", "auth"),
		now:     time.Now,
		rateMap: make(map[string]*rateEntry),
	}
	if secret != "" {
		a.secret = []byte(secret)
	} else {
		s, err := loadOrCreateSecret(settings, a.log)
		if err != nil {
			return nil, err
		}
		a.secret = s
	}
	if password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		a.passHash = h
	}
	return a, nil
}

func loadOrCreateSecret(settings Settings, log *slog.Logger) ([]byte, error) {
	if settings != nil {
		h, err := settings.GetSetting(secretKey)
		if err != nil {
			return nil, fmt.Errorf("load token secret: %w", err)
		}
		if b, err := hex.DecodeString(h); err == nil && len(b) == secretLen {
			return b, nil
		}
	}
	secret := make([]byte, secretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate token secret: %w", err)
	}
	if settings != nil {
		if err := settings.SetSetting(secretKey, hex.EncodeToString(secret)); err != nil {
			log.Warn("could not persist token secret", "err", err)
		}
	}
	return secret, nil
}

// PasswordRequired reports whether clients must present the server password
// or a token.
func (a *Auth) PasswordRequired() bool { return a.passHash != nil }

// Login checks password and returns a token for name and profile.
func (a *Auth) Login(name, password string, profile proto.Profile, addr string) (string, error) {
	if !a.checkRate(addr) {
		return "", ErrRateLimited
	}
	name, err := CleanName(name)
	if err != nil {
		return "", err
	}
	if err := a.checkPassword(password); err != nil {
		a.log.Warn("login rejected", "addr", addr, "name", name)
		return "", err
	}
	if !profile.Valid() {
		profile = proto.ProfileExtended
	}
	return a.issue(name, profile)
}

// Admit decides a connect attempt. A valid token wins over the password and
// fixes the name and profile; otherwise the password is checked and the
// requested name is cleaned (an empty one becomes a guest name).
func (a *Auth) Admit(name, token, password string, profile proto.Profile, addr string) (Claims, error) {
	if token != "" {
		c, err := a.ValidateToken(token)
		if err != nil {
			return Claims{}, err
		}
		return c, nil
	}
	if !a.checkRate(addr) {
		return Claims{}, ErrRateLimited
	}
	if err := a.checkPassword(password); err != nil {
		return Claims{}, err
	}
	if strings.TrimSpace(name) == "" {
		name = GuestName()
	}
	name, err := CleanName(name)
	if err != nil {
		return Claims{}, err
	}
	return Claims{Name: name, Profile: profile}, nil
}

// ValidateToken parses and verifies a connect token.
func (a *Auth) ValidateToken(s string) (Claims, error) {
	var c Claims
	key := func(*jwt.Token) (any, error) { return a.secret, nil }
	tok, err := jwt.ParseWithClaims(s, &c, key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if !tok.Valid {
		return Claims{}, ErrBadToken
	}
	if _, err := CleanName(c.Name); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	return c, nil
}

func (a *Auth) issue(name string, profile proto.Profile) (string, error) {
	now := a.now()
	c := Claims{
		Name:    name,
		Profile: profile,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenExpiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
}

func (a *Auth) checkPassword(password string) error {
	if a.passHash == nil {
		return nil
	}
	if bcrypt.CompareHashAndPassword(a.passHash, []byte(password)) != nil {
		return ErrBadPassword
	}
	return nil
}

func (a *Auth) checkRate(addr string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := a.now()
	e, ok := a.rateMap[addr]
	if !ok || now.After(e.resetAt) {
		a.rateMap[addr] = &rateEntry{count: 1, resetAt: now.Add(rateWindow)}
		return true
	}
	e.count++
	return e.count <= maxAttempts
}

// CleanName trims name and rejects empty, overlong or unprintable names.
func CleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if len(name) < minNameLen || len(name) > maxNameLen {
		return "", fmt.Errorf("%w: must be %d-%d bytes", ErrBadName, minNameLen, maxNameLen)
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] > 0x7e {
			return "", fmt.Errorf("%w: unprintable byte", ErrBadName)
		}
	}
	return name, nil
}

// GuestName returns a random name like "player_a3f2c1".
func GuestName() string {
	b := make([]byte, 3)
	rand.Read(b)
	return guestPrefix + hex.EncodeToString(b)
}
