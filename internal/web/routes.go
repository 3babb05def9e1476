// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/usherauth/usher/internal/account"
	"github.com/usherauth/usher/internal/observability"
	"github.com/usherauth/usher/pkg/errutil"
)

// Auth event operation labels.
const (
	opRegister       = "register"
	opLogin          = "login"
	opLogout         = "logout"
	opProfile        = "profile"
	opResetRequest   = "reset_request"
	opPasswordUpdate = "password_update"
)

func (s *Server) routes(r *gin.Engine) {
	r.GET("/", s.index)
	r.POST("/users", s.registerUser)
	r.POST("/sessions", s.login)
	r.DELETE("/sessions", s.logout)
	r.GET("/profile", s.profile)
	r.POST("/reset_password", s.resetPasswordToken)
	r.PUT("/reset_password", s.updatePassword)
}

func (s *Server) index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Bienvenue"})
}

func (s *Server) registerUser(c *gin.Context) {
	email := c.PostForm("email")
	password := c.PostForm("password")
	if email == "" || password == "" {
		s.metrics.RecordAuthEvent(opRegister, observability.OutcomeRejected)
		c.JSON(http.StatusBadRequest, gin.H{"message": "email and password are required"})
		return
	}

	if _, err := s.auth.Register(c.Request.Context(), email, password); err != nil {
		switch {
		case errors.Is(err, account.ErrAlreadyExists):
			s.metrics.RecordAuthEvent(opRegister, observability.OutcomeRejected)
			c.JSON(http.StatusBadRequest, gin.H{"message": "email already registered"})
		case errors.Is(err, account.ErrEmptyPassword), errutil.Code(err) == account.CodeInvalidEmail:
			s.metrics.RecordAuthEvent(opRegister, observability.OutcomeRejected)
			c.JSON(http.StatusBadRequest, gin.H{"message": "email and password are required"})
		case errors.Is(err, account.ErrPasswordTooLong):
			s.metrics.RecordAuthEvent(opRegister, observability.OutcomeRejected)
			c.JSON(http.StatusBadRequest, gin.H{"message": "password is too long"})
		default:
			s.internalError(c, opRegister, "register failed", err)
		}
		return
	}

	s.metrics.RecordAuthEvent(opRegister, observability.OutcomeSuccess)
	c.JSON(http.StatusOK, gin.H{"email": email, "message": "user created"})
}

func (s *Server) login(c *gin.Context) {
	email := c.PostForm("email")
	password := c.PostForm("password")
	ctx := c.Request.Context()

	if email == "" || password == "" {
		s.unauthorized(c)
		return
	}

	ok, err := s.auth.ValidLogin(ctx, email, password)
	if err != nil {
		s.internalError(c, opLogin, "login failed", err)
		return
	}
	if !ok {
		s.unauthorized(c)
		return
	}

	token, err := s.auth.CreateSession(ctx, email)
	if err != nil {
		s.internalError(c, opLogin, "create session failed", err)
		return
	}

	s.setSessionCookie(c, token)
	s.metrics.RecordAuthEvent(opLogin, observability.OutcomeSuccess)
	c.JSON(http.StatusOK, gin.H{"email": email, "message": "logged in"})
}

func (s *Server) logout(c *gin.Context) {
	acct, ok := s.currentAccount(c, opLogout)
	if !ok {
		return
	}

	if err := s.auth.DestroySession(c.Request.Context(), acct.ID); err != nil {
		s.internalError(c, opLogout, "destroy session failed", err)
		return
	}

	s.clearSessionCookie(c)
	s.metrics.RecordAuthEvent(opLogout, observability.OutcomeSuccess)
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) profile(c *gin.Context) {
	acct, ok := s.currentAccount(c, opProfile)
	if !ok {
		return
	}
	s.metrics.RecordAuthEvent(opProfile, observability.OutcomeSuccess)
	c.JSON(http.StatusOK, gin.H{"email": acct.Email})
}

func (s *Server) resetPasswordToken(c *gin.Context) {
	email := c.PostForm("email")
	if email == "" {
		s.forbidden(c, opResetRequest)
		return
	}

	token, err := s.auth.RequestPasswordReset(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			s.forbidden(c, opResetRequest)
			return
		}
		s.internalError(c, opResetRequest, "reset request failed", err)
		return
	}

	s.metrics.RecordAuthEvent(opResetRequest, observability.OutcomeSuccess)
	c.JSON(http.StatusOK, gin.H{"email": email, "reset_token": token})
}

func (s *Server) updatePassword(c *gin.Context) {
	email := c.PostForm("email")
	resetToken := c.PostForm("reset_token")
	newPassword := c.PostForm("new_password")

	if err := s.auth.UpdatePassword(c.Request.Context(), resetToken, newPassword); err != nil {
		switch {
		case errors.Is(err, account.ErrInvalidToken):
			s.forbidden(c, opPasswordUpdate)
		case errors.Is(err, account.ErrEmptyPassword):
			s.metrics.RecordAuthEvent(opPasswordUpdate, observability.OutcomeRejected)
			c.JSON(http.StatusBadRequest, gin.H{"message": "new_password is required"})
		case errors.Is(err, account.ErrPasswordTooLong):
			s.metrics.RecordAuthEvent(opPasswordUpdate, observability.OutcomeRejected)
			c.JSON(http.StatusBadRequest, gin.H{"message": "password is too long"})
		default:
			s.internalError(c, opPasswordUpdate, "password update failed", err)
		}
		return
	}

	s.metrics.RecordAuthEvent(opPasswordUpdate, observability.OutcomeSuccess)
	c.JSON(http.StatusOK, gin.H{"email": email, "message": "Password updated"})
}

// currentAccount resolves the session cookie. On failure the response has
// been written and ok is false.
func (s *Server) currentAccount(c *gin.Context, op string) (*account.Account, bool) {
	token, err := c.Cookie(SessionCookieName)
	if err != nil || token == "" {
		s.forbidden(c, op)
		return nil, false
	}

	acct, err := s.auth.GetAccountFromSession(c.Request.Context(), token)
	if err != nil {
		s.internalError(c, op, "session lookup failed", err)
		return nil, false
	}
	if acct == nil {
		s.forbidden(c, op)
		return nil, false
	}
	return acct, true
}

func (s *Server) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, token, 0, "/", "", s.secureCookie, true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, "", -1, "/", "", s.secureCookie, true)
}

func (s *Server) unauthorized(c *gin.Context) {
	s.metrics.RecordAuthEvent(opLogin, observability.OutcomeRejected)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "unauthorized"})
}

func (s *Server) forbidden(c *gin.Context, op string) {
	s.metrics.RecordAuthEvent(op, observability.OutcomeRejected)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "forbidden"})
}

func (s *Server) internalError(c *gin.Context, op, msg string, err error) {
	s.metrics.RecordAuthEvent(op, observability.OutcomeError)
	errutil.LogError(s.logger, msg, err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
}
