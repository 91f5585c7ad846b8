package dto

type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name,omitempty" validate:"max=100"`
	LastName  string `json:"last_name,omitempty" validate:"max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type AppleSignInRequest struct {
	IdentityToken string `json:"identity_token" validate:"required"`
	AuthCode      string `json:"authorization_code"`
	Email         string `json:"email,omitempty" validate:"omitempty,email"`
	FirstName     string `json:"first_name,omitempty" validate:"max=100"`
	LastName      string `json:"last_name,omitempty" validate:"max=100"`
}

type AuthResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	User         UserResponse `json:"user"`
}

type UserResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email,omitempty"`
	FullName     string `json:"full_name,omitempty"`
	AuthProvider string `json:"auth_provider"`
	IsAppleUser  bool   `json:"is_apple_user"`
	IsAnonymous  bool   `json:"is_anonymous"`
}

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status       string `json:"status"`
	Timestamp    string `json:"timestamp"`
	DB           string `json:"db"`
	ProductCount int    `json:"product_count"`
}
