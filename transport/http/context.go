package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/keyward/core"
)

const requestContextKey = "keyward.request"

// RequestContext carries what the middleware chain established about a request
type RequestContext struct {
	Credential *core.Credential
	Session    *core.SessionRecord
}

// Address of the authenticated caller, empty before authentication
func (rc *RequestContext) Address() string {
	if rc.Credential == nil {
		return ""
	}
	return rc.Credential.Address
}

// requestContext returns the request's context, creating it on first use
func requestContext(c *gin.Context) *RequestContext {
	if v, ok := c.Get(requestContextKey); ok {
		if rc, ok := v.(*RequestContext); ok {
			return rc
		}
	}
	rc := &RequestContext{}
	c.Set(requestContextKey, rc)
	return rc
}
