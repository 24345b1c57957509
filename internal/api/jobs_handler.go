package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// listJobs returns every worker job the controller manages in the configured
// namespace.
func (s *Server) listJobs(c echo.Context) error {
	jobs, err := s.deps.StatusReporter.List(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list worker jobs")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to list jobs",
		})
	}
	return c.JSON(http.StatusOK, jobs)
}

// getJob returns a single worker job by name, 404 when it does not exist.
func (s *Server) getJob(c echo.Context) error {
	name := c.Param("name")
	job, err := s.deps.StatusReporter.Get(c.Request().Context(), name)
	if err != nil {
		log.Error().Err(err).Str("job", name).Msg("Failed to get worker job")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to get job",
		})
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "Job not found: " + name,
		})
	}
	return c.JSON(http.StatusOK, job)
}

// getJobLogs streams the job's pod logs as plain text.
func (s *Server) getJobLogs(c echo.Context) error {
	name := c.Param("name")
	logs, err := s.deps.StatusReporter.Logs(c.Request().Context(), name)
	if err != nil {
		log.Error().Err(err).Str("job", name).Msg("Failed to get job logs")
		return c.String(http.StatusInternalServerError, "Failed to get job logs: "+err.Error())
	}
	return c.String(http.StatusOK, logs)
}
