package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"babybaton/internal/domain"
)

const joinFamilyMutation = `mutation JoinFamily($familyName: String!, $password: String!, $caregiverName: String!, $deviceId: String!, $deviceName: String) {
  joinFamily(familyName: $familyName, password: $password, caregiverName: $caregiverName, deviceId: $deviceId, deviceName: $deviceName) {
    success
    error
    family { id name babyName }
    caregiver { id name }
  }
}`

const createFamilyMutation = `mutation CreateFamily($familyName: String!, $password: String!, $babyName: String!, $caregiverName: String!, $deviceId: String!, $deviceName: String) {
  createFamily(familyName: $familyName, password: $password, babyName: $babyName, caregiverName: $caregiverName, deviceId: $deviceId, deviceName: $deviceName) {
    success
    error
    family { id name babyName }
    caregiver { id name }
  }
}`

// minPasswordLength is what the server accepts for a new family password.
const minPasswordLength = 6

// JoinRequest are the credentials a caregiver enters to join a family.
type JoinRequest struct {
	FamilyName    string
	Password      string
	CaregiverName string
	DeviceID      string
	DeviceName    string
}

// CreateRequest registers a new family with this device's caregiver as its
// first member.
type CreateRequest struct {
	FamilyName    string
	BabyName      string
	Password      string
	CaregiverName string
	DeviceID      string
	DeviceName    string
}

// Validate checks the form before anything is sent.
func (r CreateRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.FamilyName) == "":
		return errors.New("family name is required")
	case strings.TrimSpace(r.BabyName) == "":
		return errors.New("baby name is required")
	case len(r.Password) < minPasswordLength:
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	case strings.TrimSpace(r.CaregiverName) == "":
		return errors.New("your name is required")
	}
	return nil
}

type authResult struct {
	Success bool    `json:"success"`
	Error   *string `json:"error"`
	Family  *struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		BabyName string `json:"babyName"`
	} `json:"family"`
	Caregiver *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"caregiver"`
}

type joinFamilyData struct {
	JoinFamily *authResult `json:"joinFamily"`
}

type createFamilyData struct {
	CreateFamily *authResult `json:"createFamily"`
}

// JoinFamily signs this device into an existing family. The call carries no
// family or caregiver header since neither is known yet.
func (c *Client) JoinFamily(ctx context.Context, timezone string, req JoinRequest) (domain.Identity, error) {
	vars := map[string]any{
		"familyName":    req.FamilyName,
		"password":      req.Password,
		"caregiverName": req.CaregiverName,
		"deviceId":      req.DeviceID,
	}
	if req.DeviceName != "" {
		vars["deviceName"] = req.DeviceName
	}

	var data joinFamilyData
	err := c.postJSON(ctx, domain.TenancyHeaders{Timezone: timezone}, graphqlRequest{
		Query:         joinFamilyMutation,
		OperationName: "JoinFamily",
		Variables:     vars,
	}, &data)
	if err != nil {
		return domain.Identity{}, transportFailure(err)
	}
	return data.JoinFamily.identity("join family", "could not join family")
}

// CreateFamily registers a new family and signs this device into it.
func (c *Client) CreateFamily(ctx context.Context, timezone string, req CreateRequest) (domain.Identity, error) {
	if err := req.Validate(); err != nil {
		return domain.Identity{}, err
	}
	vars := map[string]any{
		"familyName":    strings.TrimSpace(req.FamilyName),
		"password":      req.Password,
		"babyName":      strings.TrimSpace(req.BabyName),
		"caregiverName": strings.TrimSpace(req.CaregiverName),
		"deviceId":      req.DeviceID,
	}
	if req.DeviceName != "" {
		vars["deviceName"] = req.DeviceName
	}

	var data createFamilyData
	err := c.postJSON(ctx, domain.TenancyHeaders{Timezone: timezone}, graphqlRequest{
		Query:         createFamilyMutation,
		OperationName: "CreateFamily",
		Variables:     vars,
	}, &data)
	if err != nil {
		return domain.Identity{}, transportFailure(err)
	}
	return data.CreateFamily.identity("create family", "could not create family")
}

func (res *authResult) identity(op, fallback string) (domain.Identity, error) {
	if res == nil || !res.Success || res.Family == nil || res.Caregiver == nil {
		msg := fallback
		if res != nil && res.Error != nil && strings.TrimSpace(*res.Error) != "" {
			msg = strings.TrimSpace(*res.Error)
		}
		return domain.Identity{}, domain.NewFailure(domain.ErrorCodeUnauthenticated, msg, nil)
	}

	familyID, err := uuid.Parse(res.Family.ID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%s: family id %q: %w", op, res.Family.ID, err)
	}
	caregiverID, err := uuid.Parse(res.Caregiver.ID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%s: caregiver id %q: %w", op, res.Caregiver.ID, err)
	}
	return domain.Identity{
		FamilyID:      familyID,
		CaregiverID:   caregiverID,
		CaregiverName: res.Caregiver.Name,
		FamilyName:    res.Family.Name,
		BabyName:      res.Family.BabyName,
	}, nil
}
