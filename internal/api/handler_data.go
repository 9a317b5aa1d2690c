package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tennis-alarm-backend/internal/slot"
)

type dataResponse struct {
	Facilities   map[string]slot.Facility              `json:"facilities"`
	Availability map[string]map[string][]slot.SlotView `json:"availability"`
	UpdatedAt    *time.Time                            `json:"updated_at"`
}

// GetData returns the latest crawl in the nested shape the client renders.
// Before the first successful crawl it returns empty maps.
func (h *Handler) GetData(c *gin.Context) {
	snap, ok := h.snapshot.Get()
	if !ok {
		c.JSON(http.StatusOK, dataResponse{
			Facilities:   map[string]slot.Facility{},
			Availability: map[string]map[string][]slot.SlotView{},
		})
		return
	}

	updated := snap.UpdatedAt
	c.JSON(http.StatusOK, dataResponse{
		Facilities:   snap.Facilities,
		Availability: slot.Nest(snap.Entries),
		UpdatedAt:    &updated,
	})
}

type courtGroupResponse struct {
	Name        string   `json:"name"`
	FacilityIDs []string `json:"facility_ids"`
}

// GetCourtGroups lists the subscribable court groups of the latest crawl.
func (h *Handler) GetCourtGroups(c *gin.Context) {
	out := []courtGroupResponse{}
	if snap, ok := h.snapshot.Get(); ok {
		groups := slot.BuildGroupMap(snap.Facilities)
		for _, name := range groups.Names() {
			out = append(out, courtGroupResponse{Name: name, FacilityIDs: groups[name]})
		}
	}
	c.JSON(http.StatusOK, out)
}
