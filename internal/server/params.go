package server

import (
	"errors"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/checkout/pkg/db/pagination"
)

var errInvalidSnowflakeID = errors.New("invalid_snowflake_id")

func parseSnowflakeID(value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return 0, errInvalidSnowflakeID
	}
	return parsed, nil
}

func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := parseSnowflakeID(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalInt(value string, def int) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def, nil
	}
	return strconv.Atoi(trimmed)
}

// pathID parses a snowflake path parameter, aborting with a validation error
// when it is malformed.
func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := parseSnowflakeID(c.Param(name))
	if err != nil {
		AbortWithError(c, newValidationError(name, "invalid_"+name, "invalid "+strings.ReplaceAll(name, "_", " ")))
		return 0, false
	}
	return id, true
}

// fieldID parses a snowflake carried as a string in a body or query field.
func fieldID(c *gin.Context, field, value string) (snowflake.ID, bool) {
	id, err := parseSnowflakeID(value)
	if err != nil {
		AbortWithError(c, newValidationError(field, "invalid_"+field, "invalid "+strings.ReplaceAll(field, "_", " ")))
		return 0, false
	}
	return id, true
}

func bindPage(c *gin.Context) (pagination.Page, bool) {
	var page pagination.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return pagination.Page{}, false
	}
	return page, true
}
