package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/clawboard/clawboard/pkg/graph"
	"github.com/clawboard/clawboard/pkg/models"
	"github.com/clawboard/clawboard/pkg/search"
)

// graphLogWindow bounds the rows fed to the graph builder.
const graphLogWindow = 400

// searchHandler handles GET /api/search.
func (s *Server) searchHandler(c *echo.Context) error {
	spaceIDs, err := s.resolveSpaceScope(c)
	if err != nil {
		return err
	}

	req := search.Request{
		Query:           c.QueryParam("q"),
		SessionKey:      c.QueryParam("sessionKey"),
		AllowedSpaceIDs: spaceIDs,
		Limits:          search.DefaultLimits(),
		IncludeNotes:    c.QueryParam("includeNotes") == "true",
	}
	for param, dst := range map[string]*int{
		"limitTopics": &req.Limits.Topics,
		"limitTasks":  &req.Limits.Tasks,
		"limitLogs":   &req.Limits.Logs,
	} {
		if v := c.QueryParam(param); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return echo.NewHTTPError(http.StatusBadRequest, param+" must be a positive integer")
			}
			*dst = n
		}
	}

	resp, err := s.search.Search(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// clawgraphHandler handles GET /api/clawgraph.
func (s *Server) clawgraphHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	spaceIDs, err := s.resolveSpaceScope(c)
	if err != nil {
		return err
	}

	opts := graph.Options{}
	if v := c.QueryParam("maxNodes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "maxNodes must be a positive integer")
		}
		opts.MaxNodes = n
	}
	if v := c.QueryParam("minEdgeWeight"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "minEdgeWeight must be a non-negative number")
		}
		opts.MinEdgeWeight = f
	}

	topics, err := s.store.ListTopics(ctx, spaceIDs)
	if err != nil {
		return mapServiceError(err)
	}
	tasks, err := s.store.ListTasks(ctx, "", spaceIDs)
	if err != nil {
		return mapServiceError(err)
	}
	logs, err := s.store.RecentLogs(ctx, graphLogWindow)
	if err != nil {
		return mapServiceError(err)
	}
	noteCounts, err := s.store.NoteCounts(ctx)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, graph.Build(topics, tasks, logs, noteCounts, opts))
}

// ContextResponse is the composed priming block for agents: the current
// working set, the caller's routing memory, and an optional semantic slice.
type ContextResponse struct {
	Topics   []*models.Topic              `json:"topics"`
	Tasks    []*models.Task               `json:"tasks"`
	Routing  *models.SessionRoutingMemory `json:"routing,omitempty"`
	Semantic *search.Response             `json:"semantic,omitempty"`
}

// contextHandler handles GET /api/context.
func (s *Server) contextHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	spaceIDs, err := s.resolveSpaceScope(c)
	if err != nil {
		return err
	}

	topics, err := s.store.ListTopics(ctx, spaceIDs)
	if err != nil {
		return mapServiceError(err)
	}
	tasks, err := s.store.ListTasks(ctx, "", spaceIDs)
	if err != nil {
		return mapServiceError(err)
	}

	resp := ContextResponse{Topics: topics, Tasks: tasks}
	if resp.Topics == nil {
		resp.Topics = []*models.Topic{}
	}
	if resp.Tasks == nil {
		resp.Tasks = []*models.Task{}
	}

	sessionKey := c.QueryParam("sessionKey")
	if sessionKey != "" {
		if mem, err := s.store.GetRoutingMemory(ctx, sessionKey); err == nil && len(mem.Decisions) > 0 {
			resp.Routing = mem
		}
	}

	if q := c.QueryParam("q"); q != "" {
		semantic, err := s.search.Search(ctx, search.Request{
			Query:           q,
			SessionKey:      sessionKey,
			AllowedSpaceIDs: spaceIDs,
			Limits:          search.Limits{Topics: 5, Tasks: 5, Logs: 10},
		})
		if err == nil {
			resp.Semantic = semantic
		}
		// Search faults degrade the context block rather than failing it.
	}

	return c.JSON(http.StatusOK, resp)
}
