package user

import (
	"strings"
	"time"
)

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	PlanID    int       `json:"plan_id,omitempty"`
	PlanName  string    `json:"plan_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type RegisterRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (r RegisterRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return ValidationError("name is required")
	}
	if len(name) > 200 {
		return ValidationError("name must be at most 200 characters")
	}

	email := strings.TrimSpace(r.Email)
	if email == "" {
		return ValidationError("email is required")
	}
	if !strings.Contains(email, "@") {
		return ValidationError("email is invalid")
	}
	if len(email) > 320 {
		return ValidationError("email must be at most 320 characters")
	}

	return nil
}

type SelectPlanRequest struct {
	PlanID int `json:"plan_id"`
}

func (r SelectPlanRequest) Validate() error {
	if r.PlanID <= 0 {
		return ValidationError("plan_id is required")
	}
	return nil
}
