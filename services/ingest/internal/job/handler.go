package job

import (
	"errors"

	"meetinggenius/packages/response"
	"meetinggenius/services/ingest/internal/dto"
	jobmodel "meetinggenius/services/ingest/internal/model/job"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service    *Service
	dispatcher *Dispatcher
}

func NewHandler(service *Service, dispatcher *Dispatcher) *Handler {
	return &Handler{service: service, dispatcher: dispatcher}
}

// Submit 提交任务，立即返回
// @Summary 提交转写任务
// @Description 分块需已全部写入分块存储。任务在后台执行，通过结果接口查询
// @Tags jobs
// @Accept json
// @Produce json
// @Param body body Job true "任务"
// @Success 202 {object} response.Response{data=SubmitResponse}
// @Failure 409 {object} response.Response
// @Router /jobs [post]
func (h *Handler) Submit(c *gin.Context) {
	var req Job
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.ValidationErrorResponse(c, err)
		return
	}

	if err := h.dispatcher.Submit(c.Request.Context(), req); err != nil {
		dto.ErrorResponse(c, submitError(err))
		return
	}

	dto.AcceptedResponse(c, SubmitResponse{JobID: req.JobID, Status: jobmodel.StatusPending})
}

// Result 查询任务结果
// @Summary 查询任务结果
// @Tags jobs
// @Produce json
// @Param jobId path string true "任务 ID"
// @Success 200 {object} response.Response{data=ResultResponse}
// @Router /jobs/{jobId}/result [get]
func (h *Handler) Result(c *gin.Context) {
	res, err := h.service.Result(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		dto.ErrorResponse(c, response.NewBusinessError(
			response.WithErrorCode(response.StorageUnavailable),
			response.WithErrorMessage("读取结果失败"),
			response.WithError(err),
		))
		return
	}
	dto.SuccessResponse(c, res)
}

// Status 查询任务台账
// @Summary 查询任务进度
// @Tags jobs
// @Produce json
// @Param jobId path string true "任务 ID"
// @Success 200 {object} response.Response{data=jobmodel.IngestJob}
// @Failure 404 {object} response.Response
// @Router /jobs/{jobId} [get]
func (h *Handler) Status(c *gin.Context) {
	row, err := h.service.Status(c.Request.Context(), c.Param("jobId"))
	if errors.Is(err, ErrJobNotFound) {
		dto.ErrorResponse(c, response.NewBusinessError(
			response.WithErrorCode(response.NotFound),
			response.WithErrorMessage("任务不存在"),
		))
		return
	}
	if err != nil {
		dto.ErrorResponse(c, response.NewBusinessError(
			response.WithErrorCode(response.StorageUnavailable),
			response.WithErrorMessage("读取任务失败"),
			response.WithError(err),
		))
		return
	}
	dto.SuccessResponse(c, row)
}

func submitError(err error) *response.BusinessError {
	switch {
	case errors.Is(err, ErrDuplicateJob):
		return response.NewBusinessError(
			response.WithErrorCode(response.Conflict),
			response.WithErrorMessage("任务已提交"),
			response.WithError(err),
		)
	case errors.Is(err, ErrDispatcherClosed):
		return response.NewBusinessError(
			response.WithErrorCode(response.StorageUnavailable),
			response.WithErrorMessage("服务正在关闭"),
			response.WithError(err),
		)
	default:
		return response.NewBusinessError(
			response.WithErrorCode(response.StorageUnavailable),
			response.WithErrorMessage("登记任务失败"),
			response.WithError(err),
		)
	}
}
