package chunk

import (
	"context"
	"strconv"
	"time"

	"meetinggenius/packages/response"
	"meetinggenius/services/ingest/internal/dto"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// Put 写入一个分块
// @Summary 上传录音分块
// @Tags chunks
// @Accept json
// @Produce json
// @Param jobId path string true "任务 ID"
// @Param index path int true "分块序号，从 0 开始"
// @Param body body PutChunkRequest true "base64 编码的分块"
// @Success 200 {object} response.Response{data=PutChunkResponse}
// @Router /jobs/{jobId}/chunks/{index} [put]
func (h *Handler) Put(c *gin.Context) {
	jobID := c.Param("jobId")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		dto.ErrorResponse(c, response.NewBusinessError(
			response.WithErrorCode(response.InvalidParameter),
			response.WithErrorMessage("无效的分块序号"),
		))
		return
	}

	var req PutChunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.ValidationErrorResponse(c, err)
		return
	}

	data, err := Decode(req.Data)
	if err != nil {
		dto.ErrorResponse(c, response.NewBusinessError(
			response.WithErrorCode(response.InvalidParameter),
			response.WithErrorMessage("分块不是合法的 base64"),
		))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if err := h.store.Put(ctx, jobID, index, req.Data); err != nil {
		dto.ErrorResponse(c, response.NewBusinessError(
			response.WithErrorCode(response.StorageUnavailable),
			response.WithErrorMessage("保存分块失败"),
			response.WithError(err),
		))
		return
	}

	dto.SuccessResponse(c, PutChunkResponse{JobID: jobID, Index: index, Bytes: len(data)})
}
