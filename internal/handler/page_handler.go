package handler

import (
	"io/fs"
	"net/http"
	"os"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pagegate/internal/pages"
)

// staticMaxAge は静的ファイルのキャッシュ秒数。
const staticMaxAge = "300"

// PageResolver はページハンドラーが必要とするページ解決のインターフェース。
type PageResolver interface {
	Resolve(name string) (*pages.Page, error)
	Open(p *pages.Page) (*os.File, fs.FileInfo, error)
	OpenStatic(name string) (*os.File, fs.FileInfo, error)
	ProtectedNames() []string
}

// PageHandler は許可リストに登録されたHTMLページを配信する。
type PageHandler struct {
	resolver PageResolver
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(resolver PageResolver) *PageHandler {
	return &PageHandler{resolver: resolver}
}

// Index は公開トップページを配信する。
// GET /
func (h *PageHandler) Index(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "")
}

// Page は指定した名前のページを配信するハンドラーを返す。
// 認証必須ページではアドミッションゲートの後に配置する。
func (h *PageHandler) Page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, name)
	}
}

func (h *PageHandler) serve(w http.ResponseWriter, r *http.Request, name string) {
	page, err := h.resolver.Resolve(name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	f, info, err := h.resolver.Open(page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, page.File, info.ModTime(), f)
}

// Static は公開ディレクトリの静的ファイル（サインイン画面のスクリプトやスタイル）を配信する。
// GET /static/*
func (h *PageHandler) Static(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")

	f, info, err := h.resolver.OpenStatic(name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Cache-Control", "public, max-age="+staticMaxAge)
	http.ServeContent(w, r, path.Base(name), info.ModTime(), f)
}
