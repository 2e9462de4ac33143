package identity

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/profilehub/profilehub/internal/apierror"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	DisplayName    string `json:"displayName"`
	Secret         string `json:"secret"`
	IdentifierMode string `json:"identifierMode"`
	Identifier     string `json:"identifier"`
	AvatarRef      string `json:"avatarRef"`
	About          string `json:"about"`
	Location       string `json:"location"`
}

type loginRequest struct {
	IdentifierMode string `json:"identifierMode"`
	Identifier     string `json:"identifier"`
	Secret         string `json:"secret"`
}

type updateRequest struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	About       string `json:"about"`
	Location    string `json:"location"`
	AvatarRef   string `json:"avatarRef"`
	Secret      string `json:"secret"`
}

// Register handles signup.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return apierror.New(http.StatusBadRequest, "malformed request body")
	}
	mode, err := ParseIdentifierMode(req.IdentifierMode)
	if err != nil {
		return apierror.WithField(http.StatusBadRequest, err.Error(), "identifierMode")
	}
	profile, err := h.service.Register(c.UserContext(), RegisterInput{
		DisplayName:    req.DisplayName,
		Secret:         req.Secret,
		IdentifierMode: mode,
		Identifier:     req.Identifier,
		AvatarRef:      req.AvatarRef,
		About:          req.About,
		Location:       req.Location,
	})
	if err != nil {
		return toAPIError(err)
	}
	return c.Status(http.StatusCreated).JSON(profile)
}

// Login verifies credentials and returns the profile.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return apierror.New(http.StatusBadRequest, "malformed request body")
	}
	mode, err := ParseIdentifierMode(req.IdentifierMode)
	if err != nil {
		return apierror.WithField(http.StatusBadRequest, err.Error(), "identifierMode")
	}
	profile, err := h.service.Authenticate(c.UserContext(), Credentials{
		IdentifierMode: mode,
		Identifier:     req.Identifier,
		Secret:         req.Secret,
	})
	if err != nil {
		return toAPIError(err)
	}
	return c.Status(http.StatusOK).JSON(profile)
}

// List returns the directory, newest first.
func (h *Handler) List(c *fiber.Ctx) error {
	profiles, err := h.service.List(c.UserContext())
	if err != nil {
		return toAPIError(err)
	}
	return c.Status(http.StatusOK).JSON(profiles)
}

// Get returns one profile.
func (h *Handler) Get(c *fiber.Ctx) error {
	profile, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return toAPIError(err)
	}
	return c.Status(http.StatusOK).JSON(profile)
}

// Update applies a partial profile update.
func (h *Handler) Update(c *fiber.Ctx) error {
	var req updateRequest
	if err := c.BodyParser(&req); err != nil {
		return apierror.New(http.StatusBadRequest, "malformed request body")
	}
	profile, err := h.service.Update(c.UserContext(), c.Params("id"), UpdateInput{
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Phone:       req.Phone,
		About:       req.About,
		Location:    req.Location,
		AvatarRef:   req.AvatarRef,
		Secret:      req.Secret,
	})
	if err != nil {
		return toAPIError(err)
	}
	return c.Status(http.StatusOK).JSON(profile)
}

func toAPIError(err error) error {
	if de, ok := AsDuplicateKey(err); ok {
		return apierror.WithField(http.StatusBadRequest, de.Message(), de.Field())
	}
	var opErr OpError
	switch {
	case errors.Is(err, ErrInvalidInput):
		msg := "invalid input"
		if errors.As(err, &opErr) && opErr.Msg != "" {
			msg = opErr.Msg
		}
		return apierror.New(http.StatusBadRequest, msg)
	case errors.Is(err, ErrInvalidCredentials):
		return apierror.New(http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, ErrNotFound):
		return apierror.New(http.StatusNotFound, "profile not found")
	default:
		return apierror.New(http.StatusInternalServerError, "server error")
	}
}
