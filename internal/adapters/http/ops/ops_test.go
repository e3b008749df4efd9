package ops

import (
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/veyra/demandlens/pkg/metrics"
)

func TestOpsRoutes(t *testing.T) {
	Convey("Given the registered ops server", t, func() {
		mux := http.NewServeMux()
		NewServer().Register(mux)

		Convey("When GET /healthz is requested", func() {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			Convey("Then the engine reports itself healthy", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Header().Get("Content-Type"), ShouldContainSubstring, "application/json")
				So(rec.Body.String(), ShouldContainSubstring, `"status":"ok"`)
			})
		})

		Convey("When /healthz is requested with the wrong method", func() {
			req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			Convey("Then the method is rejected", func() {
				So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
				So(rec.Header().Get("Allow"), ShouldEqual, http.MethodGet)
			})
		})

		Convey("When GET /metrics is requested", func() {
			metrics.RecordIngested()

			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			Convey("Then the engine's registry is exposed", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, "demandlens_engine_records_ingested_total")
			})
		})
	})
}
