// Package prefs keeps app-level settings and the onboarding flag in the plain
// (non-secret) store.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/and161185/sessionkit/internal/errs"
	"github.com/and161185/sessionkit/internal/storage"
	"go.uber.org/zap"
)

// Persisted entry names.
const (
	KeyUserPreferences     = "user_preferences"
	KeyTheme               = "app_theme"
	KeyLanguage            = "app_language"
	KeyOnboardingCompleted = "onboarding_completed"
)

type Language string

const (
	LanguageEN Language = "en"
	LanguageES Language = "es"
	LanguageFR Language = "fr"
)

type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// Settings is stored as one JSON document under KeyUserPreferences.
type Settings struct {
	Language             Language `json:"language"`
	NotificationsEnabled bool     `json:"notificationsEnabled"`
	Theme                Theme    `json:"theme"`
}

// Defaults returns the settings used before anything is persisted.
func Defaults() Settings {
	return Settings{Language: LanguageEN, NotificationsEnabled: true, Theme: ThemeSystem}
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Language             *Language
	NotificationsEnabled *bool
	Theme                *Theme
}

func (l Language) valid() bool {
	return l == LanguageEN || l == LanguageES || l == LanguageFR
}

func (t Theme) valid() bool {
	return t == ThemeLight || t == ThemeDark || t == ThemeSystem
}

// ParseLanguage validates a language code.
func ParseLanguage(s string) (Language, error) {
	l := Language(s)
	if !l.valid() {
		return "", errs.E(errs.KindValidation, "prefs", fmt.Errorf("unsupported language %q", s))
	}
	return l, nil
}

// ParseTheme validates a theme name.
func ParseTheme(s string) (Theme, error) {
	t := Theme(s)
	if !t.valid() {
		return "", errs.E(errs.KindValidation, "prefs", fmt.Errorf("unsupported theme %q", s))
	}
	return t, nil
}

// Store holds the current settings in memory. Every change is persisted first;
// memory is only updated when the write succeeded.
type Store struct {
	backend storage.Store
	log     *zap.Logger

	mu        sync.RWMutex
	settings  Settings
	onboarded bool
}

// NewStore returns a store with default settings.
func NewStore(backend storage.Store, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{backend: backend, log: log.Named("prefs"), settings: Defaults()}
}

// Initialize loads persisted settings. It never fails: unreadable data falls
// back to defaults.
func (s *Store) Initialize(ctx context.Context) {
	settings, onboarded, err := s.load(ctx)
	if err != nil {
		s.log.Warn("preferences unreadable, using defaults", zap.Error(err))
		settings, onboarded = Defaults(), false
	}
	s.mu.Lock()
	s.settings = settings
	s.onboarded = onboarded
	s.mu.Unlock()
}

func (s *Store) load(ctx context.Context) (Settings, bool, error) {
	settings := Defaults()
	raw, ok, err := s.backend.Get(ctx, KeyUserPreferences)
	if err != nil {
		return Settings{}, false, err
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &settings); err != nil {
			return Settings{}, false, err
		}
		if !settings.Language.valid() || !settings.Theme.valid() {
			return Settings{}, false, fmt.Errorf("invalid persisted settings %+v", settings)
		}
	}
	flag, _, err := s.backend.Get(ctx, KeyOnboardingCompleted)
	if err != nil {
		return Settings{}, false, err
	}
	return settings, flag == "true", nil
}

// Settings returns the current settings.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// OnboardingCompleted reports the onboarding flag.
func (s *Store) OnboardingCompleted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onboarded
}

func (s *Store) SetLanguage(ctx context.Context, l Language) error {
	return s.Update(ctx, Patch{Language: &l})
}

func (s *Store) SetTheme(ctx context.Context, t Theme) error {
	return s.Update(ctx, Patch{Theme: &t})
}

func (s *Store) SetNotificationsEnabled(ctx context.Context, on bool) error {
	return s.Update(ctx, Patch{NotificationsEnabled: &on})
}

// Update merges p into the current settings and persists the result. The
// theme and language are mirrored under their own keys for readers that only
// need one value.
func (s *Store) Update(ctx context.Context, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings
	if p.Language != nil {
		if !p.Language.valid() {
			return errs.E(errs.KindValidation, "prefs.Update", fmt.Errorf("unsupported language %q", *p.Language))
		}
		next.Language = *p.Language
	}
	if p.Theme != nil {
		if !p.Theme.valid() {
			return errs.E(errs.KindValidation, "prefs.Update", fmt.Errorf("unsupported theme %q", *p.Theme))
		}
		next.Theme = *p.Theme
	}
	if p.NotificationsEnabled != nil {
		next.NotificationsEnabled = *p.NotificationsEnabled
	}

	b, err := json.Marshal(next)
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, KeyUserPreferences, string(b)); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	if p.Theme != nil {
		if err := s.backend.Set(ctx, KeyTheme, string(next.Theme)); err != nil {
			return fmt.Errorf("persist theme: %w", err)
		}
	}
	if p.Language != nil {
		if err := s.backend.Set(ctx, KeyLanguage, string(next.Language)); err != nil {
			return fmt.Errorf("persist language: %w", err)
		}
	}
	s.settings = next
	return nil
}

// CompleteOnboarding persists the onboarding flag.
func (s *Store) CompleteOnboarding(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Set(ctx, KeyOnboardingCompleted, "true"); err != nil {
		return fmt.Errorf("persist onboarding: %w", err)
	}
	s.onboarded = true
	return nil
}
