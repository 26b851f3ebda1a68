package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/storage"
)

// ImageHandler handles course image uploads
type ImageHandler struct {
	storage *storage.ImageStorage
}

// NewImageHandler creates a new image handler
func NewImageHandler(storage *storage.ImageStorage) *ImageHandler {
	return &ImageHandler{
		storage: storage,
	}
}

// Register serves stored images publicly and mounts upload management on the admin group
func (h *ImageHandler) Register(g, admin *echo.Group) {
	g.GET("/uploads/:filename", h.ServeImage).Name = "image"
	admin.POST("/uploads", h.UploadImage)
	admin.DELETE("/uploads/:filename", h.DeleteImage)
}

// ServeImage serves an image file
func (h *ImageHandler) ServeImage(c echo.Context) error {
	path, err := h.storage.GetImagePath(c.Param("filename"))
	if err != nil {
		return err
	}
	return c.File(path)
}

// UploadImage godoc
// @Summary Upload an image
// @Tags admin
// @Accept multipart/form-data
// @Produce json
// @Param image formData file true "Image (jpg, jpeg, png or gif, at most 5MB)"
// @Success 201 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Router /admin/uploads [post]
func (h *ImageHandler) UploadImage(c echo.Context) error {
	file, err := c.FormFile("image")
	if err != nil {
		return domain.InvalidInput("no image file provided")
	}

	filename, err := h.storage.SaveImage(file)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, map[string]string{
		"filename": filename,
		"url":      c.Echo().Reverse("image", filename),
	})
}

func (h *ImageHandler) DeleteImage(c echo.Context) error {
	if err := h.storage.DeleteImage(c.Param("filename")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
