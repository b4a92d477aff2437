package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"nicmeup/geo"
	"nicmeup/middleware"
	"nicmeup/models"
	"nicmeup/store"
)

const maxPhotoBytes = 10 << 20

// UpdateProfileRequest only changes the fields that are present.
type UpdateProfileRequest struct {
	Name            *string  `json:"name"`
	QuestRadiusFeet *float64 `json:"questRadius"`
	Pouch           *string  `json:"pouch"`
	Flavor          *string  `json:"flavor"`
	Strength        *string  `json:"strength"`
	Notes           *string  `json:"notes"`
}

type LocationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type PushTokenRequest struct {
	Token string `json:"token"`
}

type AssistPointsRequest struct {
	AssistPoints []models.AssistPoint `json:"assistPoints" binding:"required"`
}

type OnboardingRequest struct {
	TermsVersion string `json:"termsVersion" binding:"required"`
}

func (h *Handler) GetMyProfile(c *gin.Context) {
	userID := middleware.UserID(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	p, err := h.Users.Get(ctx, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	r, err := h.Ratings.Get(ctx, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p, "rating": r})
}

func (h *Handler) UpdateMyProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	f := store.Fields{}
	if req.Name != nil {
		f["name"] = strings.TrimSpace(*req.Name)
	}
	if req.QuestRadiusFeet != nil {
		r := *req.QuestRadiusFeet
		if r <= 0 || r > h.Protocol.MaxRadiusFeet {
			c.JSON(http.StatusBadRequest, gin.H{"error": "questRadius out of range", "max": h.Protocol.MaxRadiusFeet})
			return
		}
		f["questRadius"] = r
	}
	for key, v := range map[string]*string{"pouch": req.Pouch, "flavor": req.Flavor, "strength": req.Strength, "notes": req.Notes} {
		if v != nil {
			f[key] = *v
		}
	}
	if len(f) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Nothing to update"})
		return
	}

	h.updateAndReturn(c, f)
}

// UpdateLocation reports the caller's live position.
func (h *Handler) UpdateLocation(c *gin.Context) {
	var req LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	p := geo.Point{Latitude: req.Latitude, Longitude: req.Longitude}
	if err := h.Rendezvous.UpdateLocation(ctx, middleware.UserID(c), p); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Location updated"})
}

// UpdatePushToken stores an Expo token. An empty token unregisters the device.
func (h *Handler) UpdatePushToken(c *gin.Context) {
	var req PushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	userID := middleware.UserID(c)
	token := strings.TrimSpace(req.Token)
	var err error
	if token == "" {
		err = h.Users.ClearPushToken(ctx, userID)
	} else {
		err = h.Users.Update(ctx, userID, store.Fields{store.PushTokenField: token})
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Push token saved"})
}

// UpdateAssistPoints replaces the caller's assist points.
func (h *Handler) UpdateAssistPoints(c *gin.Context) {
	var req AssistPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	for i, ap := range req.AssistPoints {
		if !ap.Point().Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid coordinates", "index": i})
			return
		}
	}
	h.updateAndReturn(c, store.Fields{store.AssistPointsField: req.AssistPoints})
}

func (h *Handler) CompleteOnboarding(c *gin.Context) {
	var req OnboardingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	now := h.Clock.Now()
	h.updateAndReturn(c, store.Fields{
		"onboardingComplete":    true,
		"onboardingCompletedAt": now,
		"termsVersion":          req.TermsVersion,
	})
}

func (h *Handler) updateAndReturn(c *gin.Context, f store.Fields) {
	userID := middleware.UserID(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Users.Update(ctx, userID, f); err != nil {
		h.fail(c, err)
		return
	}
	p, err := h.Users.Get(ctx, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// UploadPhoto takes a multipart "photo" file and makes it the profile picture.
func (h *Handler) UploadPhoto(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPhotoBytes)
	file, _, err := c.Request.FormFile("photo")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Photo is too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No photo file provided"})
		return
	}
	defer file.Close()

	ctx, cancel := requestContext(c)
	defer cancel()

	url, err := h.Photos.SetProfilePhoto(ctx, middleware.UserID(c), file)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"photoUrl": url})
}
