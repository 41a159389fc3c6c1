package responder

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/localnet/herald/common"
)

type serviceInfo struct {
	ID       uint64   `json:"id"`
	Instance string   `json:"instance"`
	Type     string   `json:"type"`
	FullName string   `json:"full_name"`
	Port     uint16   `json:"port"`
	Text     []string `json:"txt"`
}

func badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
	common.Log.Infof("[mdns http] %v", err)
}

// HandleHTTP mounts the responder's status and control routes on
// router. The routes are plain clients of the public API; they add no
// registry semantics of their own.
func (h *Handle) HandleHTTP(router *mux.Router) {
	router.Methods("GET").Path("/hostname").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, h.Hostname())
	})

	router.Methods("GET").Path("/services").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		services := h.Services()
		infos := make([]serviceInfo, 0, len(services))
		for _, svc := range services {
			infos = append(infos, serviceInfo{
				ID:       svc.ID,
				Instance: svc.Instance,
				Type:     svc.Type,
				FullName: svc.FullName(),
				Port:     svc.Port,
				Text:     svc.Text,
			})
		}
		if err := json.NewEncoder(w).Encode(infos); err != nil {
			badRequest(w, fmt.Errorf("error marshalling response: %v", err))
		}
	})

	router.Methods("PUT").Path("/services").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		port, err := strconv.ParseUint(r.FormValue("port"), 10, 16)
		if err != nil {
			badRequest(w, fmt.Errorf("bad port: %v", err))
			return
		}
		var txt []string
		if s := r.FormValue("txt"); s != "" {
			txt = strings.Split(s, ",")
		}

		token, err := h.Register(r.FormValue("type"), r.FormValue("instance"), uint16(port), txt)
		if err != nil {
			badRequest(w, fmt.Errorf("unable to register: %v", err))
			return
		}
		json.NewEncoder(w).Encode(map[string]uint64{"id": token.ID()})
	})

	router.Methods("DELETE").Path("/services/{id}").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			badRequest(w, fmt.Errorf("bad service id: %v", err))
			return
		}
		switch err := h.Unregister(id).(type) {
		case nil:
			w.WriteHeader(204)
		case UnknownServiceError:
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			badRequest(w, err)
		}
	})
}
