package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/sadhana/internal/service"
	"github.com/roach88/sadhana/internal/store"
)

type eventResponse struct {
	store.Event
	IdempotencyHit bool `json:"idempotency_hit"`
}

type chunkResponse struct {
	Chunk          store.AudioChunk      `json:"chunk"`
	Projection     store.StageProjection `json:"projection"`
	IdempotencyHit bool                  `json:"idempotency_hit"`
}

// bhavResponse renders a null id for evaluations that were not stored.
type bhavResponse struct {
	ID *int64 `json:"id"`
	store.BhavEvaluation
	Persisted bool `json:"persisted"`
}

type deliveriesQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=queued retrying delivered dead_letter"`
	Limit  int    `form:"limit" binding:"gte=0,lte=1000"`
}

type dateQuery struct {
	DateKey string `form:"date_key" binding:"omitempty,datetime=2006-01-02"`
}

type processRequest struct {
	BatchSize int  `json:"batch_size" binding:"gte=0,lte=1000"`
	Force     bool `json:"force"`
}

// bindOptional decodes a JSON body when one was sent.
func bindOptional(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func idempotentStatus(duplicate bool) int {
	if duplicate {
		return http.StatusOK
	}
	return http.StatusCreated
}

func (s *Server) createUser(c *gin.Context) {
	var in service.CreateUserInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, err)
		return
	}
	u, err := s.svc.CreateUser(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (s *Server) setConsent(c *gin.Context) {
	var in service.ConsentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, err)
		return
	}
	consent, err := s.svc.SetConsent(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, consent)
}

func (s *Server) getConsent(c *gin.Context) {
	consent, err := s.svc.GetConsent(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, consent)
}

func (s *Server) getProgress(c *gin.Context) {
	p, err := s.svc.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) createSession(c *gin.Context) {
	var in service.CreateSessionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, err)
		return
	}
	sess, err := s.svc.CreateSession(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.svc.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) ingestEvent(c *gin.Context) {
	var in service.EventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, err)
		return
	}
	in.SessionID = c.Param("id")
	e, dup, err := s.svc.IngestEvent(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(idempotentStatus(dup), eventResponse{Event: e, IdempotencyHit: dup})
}

func (s *Server) ingestPartnerEvent(c *gin.Context) {
	var in service.PartnerEventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, err)
		return
	}
	e, dup, err := s.svc.IngestPartnerEvent(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(idempotentStatus(dup), eventResponse{Event: e, IdempotencyHit: dup})
}

func (s *Server) requestAdaptation(c *gin.Context) {
	var in service.AdaptationInput
	if err := bindOptional(c, &in); err != nil {
		s.badRequest(c, err)
		return
	}
	d, err := s.svc.RequestAdaptation(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) endSession(c *gin.Context) {
	var in service.EndSessionInput
	if err := bindOptional(c, &in); err != nil {
		s.badRequest(c, err)
		return
	}
	sess, summary, err := s.svc.EndSession(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "summary": summary})
}

func (s *Server) evaluateBhav(c *gin.Context) {
	var in service.EvaluateBhavInput
	if err := bindOptional(c, &in); err != nil {
		s.badRequest(c, err)
		return
	}
	res, err := s.svc.EvaluateBhav(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := bhavResponse{BhavEvaluation: res, Persisted: res.ID != 0}
	if out.Persisted {
		out.ID = &res.ID
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) ingestAudioChunk(c *gin.Context) {
	var in service.AudioChunkInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, err)
		return
	}
	in.SessionID = c.Param("id")
	chunk, dup, proj, err := s.svc.IngestAudioChunk(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(idempotentStatus(dup), chunkResponse{Chunk: chunk, Projection: proj, IdempotencyHit: dup})
}

func (s *Server) listStageProjections(c *gin.Context) {
	out, err := s.svc.ListStageProjections(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) evaluateStage(c *gin.Context) {
	var in service.EvaluateStageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, err)
		return
	}
	res, err := s.svc.EvaluateStage(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) createSubscription(c *gin.Context) {
	var in service.SubscriptionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, err)
		return
	}
	sub, err := s.svc.CreateWebhookSubscription(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (s *Server) listSubscriptions(c *gin.Context) {
	out, err := s.svc.ListWebhookSubscriptions(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listDeliveries(c *gin.Context) {
	var q deliveriesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.badRequest(c, err)
		return
	}
	out, err := s.svc.ListDeliveries(c.Request.Context(), q.Status, q.Limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) exportBusinessSignals(c *gin.Context) {
	var q dateQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.badRequest(c, err)
		return
	}
	row, err := s.svc.ExportBusinessSignals(c.Request.Context(), q.DateKey)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (s *Server) exportEcosystemUsage(c *gin.Context) {
	var q dateQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.badRequest(c, err)
		return
	}
	row, err := s.svc.ExportEcosystemUsage(c.Request.Context(), q.DateKey)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (s *Server) compareExperiment(c *gin.Context) {
	var in service.ExperimentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, err)
		return
	}
	out, err := s.svc.CompareExperiment(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) businessCohorts(c *gin.Context) {
	out, err := s.svc.BusinessCohorts(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) recomputeProjections(c *gin.Context) {
	out, err := s.svc.RecomputeProjections(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) processWebhooks(c *gin.Context) {
	var in processRequest
	if err := bindOptional(c, &in); err != nil {
		s.badRequest(c, err)
		return
	}
	out, err := s.svc.ProcessWebhooks(c.Request.Context(), in.BatchSize, in.Force)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
