package api

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/banshee-data/worldmodel/internal/httputil"
	"github.com/banshee-data/worldmodel/internal/transform"
	"github.com/banshee-data/worldmodel/internal/worldmodel"
	"github.com/banshee-data/worldmodel/internal/worldmodel/camera"
	"github.com/banshee-data/worldmodel/internal/worldmodel/projector"
	"github.com/banshee-data/worldmodel/internal/worldmodel/tracker"
)

// httpStatus maps domain errors to response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, worldmodel.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, tracker.ErrInvalidRequest),
		errors.Is(err, transform.ErrInvalidTransform):
		return http.StatusBadRequest
	case errors.Is(err, tracker.ErrAddObjectFailed),
		errors.Is(err, camera.ErrNoCalibration),
		errors.Is(err, camera.ErrInvalidCalibration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, projector.ErrTransformUnavailable),
		errors.Is(err, projector.ErrRangingUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	httputil.WriteJSONError(w, httpStatus(err), err.Error())
}

type objectModel struct {
	Session string              `json:"session"`
	Objects []worldmodel.Object `json:"objects"`
}

func (s *Server) listObjects(w http.ResponseWriter, r *http.Request) {
	session, objects := s.tracker.ModelSnapshot()
	if class := r.URL.Query().Get("class"); class != "" {
		filtered := objects[:0]
		for _, o := range objects {
			if o.Class() == class {
				filtered = append(filtered, o)
			}
		}
		objects = filtered
	}
	if objects == nil {
		objects = []worldmodel.Object{}
	}
	httputil.WriteJSON(w, http.StatusOK, objectModel{
		Session: session.String(),
		Objects: objects,
	})
}

func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	o, err := s.tracker.GetObject(r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (s *Server) setObjectState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State worldmodel.State `json:"state"`
	}
	if !decode(w, r, &req) {
		return
	}
	o, err := s.tracker.SetObjectState(r.Context(), r.PathValue("id"), req.State)
	if err != nil {
		s.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (s *Server) addObject(w http.ResponseWriter, r *http.Request) {
	var req tracker.AddObjectRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := s.tracker.AddObject(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (s *Server) posePercept(w http.ResponseWriter, r *http.Request) {
	var p worldmodel.PosePercept
	if !decode(w, r, &p) {
		return
	}
	res, err := s.tracker.HandlePosePercept(r.Context(), p)
	if err != nil {
		s.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) imagePercept(w http.ResponseWriter, r *http.Request) {
	var p worldmodel.ImagePercept
	if !decode(w, r, &p) {
		return
	}
	res, err := s.tracker.HandleImagePercept(r.Context(), p)
	if err != nil {
		s.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) sysCommand(w http.ResponseWriter, r *http.Request) {
	var cmd worldmodel.SysCommand
	if !decode(w, r, &cmd) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"handled": s.tracker.HandleSysCommand(cmd)})
}

func (s *Server) publishOdometry(w http.ResponseWriter, r *http.Request) {
	var odom worldmodel.Odometry
	if !decode(w, r, &odom) {
		return
	}
	_, frames := s.config()
	if err := s.transforms.PublishOdometry(odom, frames); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listFrames returns the frame tree as child to parent.
func (s *Server) listFrames(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.transforms.Frames())
}

func (s *Server) showDebug(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"enabled":  s.debug.IsEnabled(),
		"snapshot": s.debug.Snapshot(),
	})
}

// toggleDebug switches recording with ?enabled=true|false.
func (s *Server) toggleDebug(w http.ResponseWriter, r *http.Request) {
	if !r.URL.Query().Has("enabled") {
		httputil.BadRequest(w, "enabled must be true or false")
		return
	}
	on, err := httputil.QueryBool(r, "enabled", false)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.debug.SetEnabled(on)
	s.log.Infow("association debugging", "enabled", on)
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"enabled": on})
}

func (s *Server) resetDebug(w http.ResponseWriter, r *http.Request) {
	s.debug.Reset()
	w.WriteHeader(http.StatusNoContent)
}
