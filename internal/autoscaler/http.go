/*
 * MIT License
 *
 * Copyright (c) 2026 ringcache contributors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package autoscaler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ringfleet/ringcache/internal/ids"
	"github.com/ringfleet/ringcache/internal/ringerr"
)

// Handler builds the manager control port's HTTP surface (spec §6):
// GET /cache-servers, POST /cache-servers, DELETE /cache-servers/{id}.
func (m *Manager) Handler() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/cache-servers", m.handleList)
	engine.POST("/cache-servers", m.handleCreate)
	engine.DELETE("/cache-servers/:id", m.handleDelete)

	return engine
}

func (m *Manager) handleList(c *gin.Context) {
	snap := m.monitor.Snapshot()

	out := make(map[string]gin.H, len(snap))
	for id, info := range snap {
		out[strconv.FormatUint(uint64(id), 10)] = gin.H{
			"port":           info.Port,
			"capacityFactor": info.CurrentCF,
			"active":         info.Active,
		}
	}
	c.JSON(http.StatusOK, out)
}

func (m *Manager) handleCreate(c *gin.Context) {
	id, port, err := m.StartOne(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "port": port})
}

func (m *Manager) handleDelete(c *gin.Context) {
	raw := c.Param("id")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server id"})
		return
	}

	if err := m.StopOne(c.Request.Context(), ids.ServerID(n)); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ringerr.Sentinel(ringerr.UnknownServer)) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
