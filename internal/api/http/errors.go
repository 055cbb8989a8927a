package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/job"
	"github.com/GriffinCanCode/filer/internal/rename"
	"github.com/GriffinCanCode/filer/internal/scheduler"
)

// statusFor maps a failure to the HTTP status it is reported with
func statusFor(err error) int {
	var transition *job.ErrInvalidTransition
	switch {
	case errors.As(err, &transition),
		errors.Is(err, job.ErrConflictResolved):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrClosed):
		return http.StatusServiceUnavailable
	}

	switch fserr.Classify(err) {
	case fserr.NotFound:
		return http.StatusNotFound
	case fserr.AlreadyExists, fserr.Cancelled:
		return http.StatusConflict
	case fserr.PermissionDenied:
		return http.StatusForbidden
	case fserr.InvalidInput:
		return http.StatusBadRequest
	case fserr.InvalidPlan:
		return http.StatusUnprocessableEntity
	case fserr.Unavailable:
		return http.StatusServiceUnavailable
	case fserr.Unsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its classified code. Plan failures also
// carry their offenders.
func respondError(c *gin.Context, err error) {
	body := gin.H{
		"success": false,
		"code":    fserr.Classify(err),
		"error":   err.Error(),
	}
	var planErr *rename.PlanError
	if errors.As(err, &planErr) {
		body["offenders"] = planErr.Offenders
	}
	_ = c.Error(err)
	c.JSON(statusFor(err), body)
}

// badRequest rejects a malformed request body or parameter
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"code":    fserr.InvalidInput,
		"error":   "Invalid request: " + err.Error(),
	})
}
