package app

import "errors"

var (
	ErrEmailAndPasswordRequired = errors.New("email and password required")
	ErrEmailAlreadyExists       = errors.New("email already exists")
	ErrWeakPassword             = errors.New("password too weak")
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrRefreshTokenRequired     = errors.New("refresh token required")
	ErrInvalidRefreshToken      = errors.New("invalid refresh token")
	ErrUnsupportedProvider      = errors.New("unsupported identity provider")
	ErrIdentityTokenRequired    = errors.New("identity token required")

	ErrConversationNotFound = errors.New("conversation not found")
	ErrTitleRequired        = errors.New("title required")

	ErrChatHistoryRequired = errors.New("chat history required")
	ErrInvalidChatRole     = errors.New("invalid chat message role")
	ErrChatContentRequired = errors.New("chat message content required")
	ErrLastMessageNotUser  = errors.New("last chat message must be from the user")

	ErrDisplayNameRequired = errors.New("display name required")
	ErrPreferencesInvalid  = errors.New("preferences must be a json object")
	ErrAvatarTooLarge      = errors.New("avatar too large")
	ErrAvatarUnsupported   = errors.New("unsupported avatar type")
)
