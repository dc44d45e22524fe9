package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"quillchat/internal/util"
	"quillchat/pkg/domain"
)

const maxAvatarBytes = 2 << 20

var avatarContentTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// UpdateProfile changes the user's display name.
func (a *App) UpdateProfile(user domain.User, displayName string) (domain.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return domain.User{}, ErrDisplayNameRequired
	}
	user.DisplayName = displayName
	user.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// UpdatePreferences replaces the user's preference document. The document
// is opaque to the server apart from having to be a JSON object.
func (a *App) UpdatePreferences(user domain.User, preferences json.RawMessage) (domain.User, error) {
	trimmed := strings.TrimSpace(string(preferences))
	if trimmed == "" || !json.Valid([]byte(trimmed)) || !strings.HasPrefix(trimmed, "{") {
		return domain.User{}, ErrPreferencesInvalid
	}
	user.Preferences = json.RawMessage(trimmed)
	user.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// UploadAvatar stores a new avatar image and records its key on the user.
func (a *App) UploadAvatar(ctx context.Context, user domain.User, r io.Reader, size int64, contentType string) (domain.User, error) {
	if a.objects == nil {
		return domain.User{}, fmt.Errorf("object storage not configured")
	}
	if size <= 0 || size > maxAvatarBytes {
		return domain.User{}, ErrAvatarTooLarge
	}
	ext, ok := avatarContentTypes[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return domain.User{}, ErrAvatarUnsupported
	}
	key := fmt.Sprintf("avatars/%s/%s%s", user.ID, util.NewID(), ext)
	if err := a.objects.Put(ctx, key, io.LimitReader(r, maxAvatarBytes), size, contentType); err != nil {
		return domain.User{}, fmt.Errorf("store avatar: %w", err)
	}
	oldKey := user.AvatarKey
	user.AvatarKey = key
	user.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	if oldKey != "" {
		if err := a.objects.Delete(ctx, oldKey); err != nil {
			util.LoggerFromContext(ctx).Warn("delete old avatar failed", "key", oldKey, "error", err)
		}
	}
	return user, nil
}

// WithAvatarURL fills in a short-lived avatar URL when the user has one.
func (a *App) WithAvatarURL(ctx context.Context, user domain.User) domain.User {
	if a.objects == nil || user.AvatarKey == "" {
		return user
	}
	url, err := a.objects.PresignGet(ctx, user.AvatarKey, a.avatarURLTTL)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("presign avatar failed", "error", err)
		return user
	}
	user.AvatarURL = url
	return user
}
