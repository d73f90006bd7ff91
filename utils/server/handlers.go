package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/kris-hansen/sheetsmith/utils/artifact"
	"github.com/kris-hansen/sheetsmith/utils/config"
	"github.com/kris-hansen/sheetsmith/utils/pipelineerr"
	"github.com/kris-hansen/sheetsmith/utils/processor"
	"go.uber.org/zap"
)

// multipart parts above this size spill to temporary files
const formMemory = 32 << 20

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func sendError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func downloadURL(id string, k artifact.Kind) string {
	return fmt.Sprintf("/download/%s/%s", id, k)
}

// handleProcess stores the three uploads and, unless finalize=false, runs the
// pipeline before answering
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	finalize := s.config.AutoFinalize
	if v := r.URL.Query().Get("finalize"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			sendError(w, http.StatusBadRequest, fmt.Sprintf("Invalid finalize value %q", v))
			return
		}
		finalize = b
	}

	if s.config.MaxUploadMB > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(s.config.MaxUploadMB)<<20)
	}
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d MB", s.config.MaxUploadMB))
			return
		}
		sendError(w, http.StatusBadRequest, fmt.Sprintf("Invalid multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	var sub processor.Submission
	for _, field := range []struct {
		name string
		dst  *processor.Upload
	}{
		{"ideal", &sub.Ideal},
		{"raw", &sub.Raw},
		{"instructions", &sub.Instructions},
	} {
		f, hdr, err := r.FormFile(field.name)
		if err != nil {
			sendError(w, http.StatusBadRequest, fmt.Sprintf("Missing %s file", field.name))
			return
		}
		defer func(f multipart.File) { f.Close() }(f)
		*field.dst = processor.Upload{Name: hdr.Filename, Body: f}
	}

	job, err := s.orch.Submit(r.Context(), sub)
	if err != nil {
		s.submitError(w, job, err)
		return
	}
	config.VerboseLog("Received job %s (finalize=%v)", job.ID, finalize)

	if finalize {
		job, err = s.orch.Finalize(r.Context(), job.ID)
		if err != nil {
			s.finalizeError(w, job, err)
			return
		}
	}

	resp := ProcessResponse{JobID: job.ID, Status: string(job.Status)}
	if job.Status == processor.StateReady {
		resp.IdealURL = downloadURL(job.ID, artifact.KindIdeal)
		resp.LogURL = downloadURL(job.ID, artifact.KindLog)
		resp.SummaryURL = downloadURL(job.ID, artifact.KindSummary)
	} else {
		resp.Message = fmt.Sprintf("Job stored; POST /finalize/%s to run it", job.ID)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) submitError(w http.ResponseWriter, job *processor.Job, err error) {
	if errors.Is(err, pipelineerr.ErrInput) && job == nil {
		sendError(w, http.StatusBadRequest, pipelineerr.Reason(err))
		return
	}
	s.log.Error("could not store job", zap.Error(err))
	sendError(w, http.StatusInternalServerError, pipelineerr.Reason(err))
}

func (s *Server) finalizeError(w http.ResponseWriter, job *processor.Job, err error) {
	switch {
	case errors.Is(err, pipelineerr.ErrNotFound):
		sendError(w, http.StatusNotFound, err.Error())
	case job == nil:
		sendError(w, http.StatusInternalServerError, err.Error())
	default:
		message := job.Reason
		if message == "" {
			message = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, FinalizeResponse{
			JobID:   job.ID,
			Status:  string(job.Status),
			Message: message,
		})
	}
}

// handleFinalize runs a received job. A ready job answers at once with its
// stored result.
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("jobId")
	job, err := s.orch.Finalize(r.Context(), id)
	if err != nil {
		s.finalizeError(w, job, err)
		return
	}
	writeJSON(w, http.StatusOK, FinalizeResponse{
		JobID:   job.ID,
		Status:  string(job.Status),
		Source:  job.Source,
		Message: fmt.Sprintf("Wrote %s output (plan %s)", job.Source, job.PlanStatus),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("jobId")
	kind, err := artifact.ParseKind(r.PathValue("kind"))
	if err != nil {
		sendError(w, http.StatusNotFound, err.Error())
		return
	}
	data, err := s.orch.Artifact(id, kind)
	if err != nil {
		if errors.Is(err, pipelineerr.ErrNotFound) {
			sendError(w, http.StatusNotFound, err.Error())
			return
		}
		s.log.Error("could not read artifact", zap.String("job_id", id), zap.String("kind", string(kind)), zap.Error(err))
		sendError(w, http.StatusInternalServerError, "could not read artifact")
		return
	}

	w.Header().Set("Content-Type", kind.ContentType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": kind.FileName()}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.Job(r.PathValue("jobId"))
	if err != nil {
		sendError(w, http.StatusNotFound, err.Error())
		return
	}
	resp := JobResponse{Job: *job}
	if job.Status == processor.StateReady {
		resp.Downloads = make(map[string]string)
		for _, k := range artifact.Kinds() {
			resp.Downloads[string(k)] = downloadURL(job.ID, k)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}
