// Package pages はページ名からHTMLファイルへの解決を提供する。
//
// 解決先は起動時に構築した許可リストに限られ、ファイルはos.Rootを通して開くため
// 設定誤りがあっても指定ディレクトリの外には出ない。
package pages

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/hitoshi/pagegate/internal/model"
)

// IndexFile は公開トップページのファイル名。
const IndexFile = "index.html"

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// reservedNames はゲートウェイ自身のルートと衝突するためページ名に使えない。
var reservedNames = map[string]bool{
	"api":              true,
	"static":           true,
	"health":           true,
	"metrics":          true,
	"me":               true,
	"activity-history": true,
	"log-activity":     true,
}

// Page は許可リストに登録されたページを表す。
type Page struct {
	Name      string // URL上の名前。トップページは空文字
	File      string // ディレクトリ内のファイル名
	Protected bool   // 認証必須か
}

// Resolver はページ名を許可リストに従ってファイルへ解決する。
// 構築後は読み取り専用で、複数のgoroutineから同時に利用できる。
type Resolver struct {
	public  *os.Root
	private *os.Root
	pages   map[string]Page
}

// NewResolver はResolverを生成する。
// protectedの各名前はprivateDir内の"<name>.html"に対応する。
// 名前が不正な場合はmodel.ErrConfigurationFatalをラップしたエラーを返す。
func NewResolver(publicDir, privateDir string, protected []string) (*Resolver, error) {
	pages := map[string]Page{
		"": {Name: "", File: IndexFile},
	}
	for _, name := range protected {
		if !namePattern.MatchString(name) {
			return nil, fmt.Errorf("%w: invalid page name %q", model.ErrConfigurationFatal, name)
		}
		if reservedNames[name] {
			return nil, fmt.Errorf("%w: page name %q is reserved", model.ErrConfigurationFatal, name)
		}
		pages[name] = Page{Name: name, File: name + ".html", Protected: true}
	}

	return &Resolver{
		public:  openRoot(publicDir),
		private: openRoot(privateDir),
		pages:   pages,
	}, nil
}

// openRoot はディレクトリをos.Rootとして開く。
// 存在しない場合は警告を出し、すべてのファイルを未検出として扱う。
func openRoot(dir string) *os.Root {
	root, err := os.OpenRoot(dir)
	if err != nil {
		slog.Warn("page directory is not available",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return root
}

// Resolve はページ名を許可リストから引く。
// 登録されていない名前はmodel.ErrNotFoundを返す。ファイルの有無は確認しない。
func (r *Resolver) Resolve(name string) (*Page, error) {
	p, ok := r.pages[name]
	if !ok {
		return nil, fmt.Errorf("%w: page %q", model.ErrNotFound, name)
	}
	return &p, nil
}

// IsProtected はページ名が認証必須ページとして登録されているかを返す。
func (r *Resolver) IsProtected(name string) bool {
	p, ok := r.pages[name]
	return ok && p.Protected
}

// ProtectedNames は認証必須ページ名をソートして返す。
func (r *Resolver) ProtectedNames() []string {
	var names []string
	for name, p := range r.pages {
		if p.Protected {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Open はページのファイルを開く。
// ファイルが存在しない場合はmodel.ErrNotFoundを返す。呼び出し元がCloseすること。
func (r *Resolver) Open(p *Page) (*os.File, fs.FileInfo, error) {
	root := r.public
	if p.Protected {
		root = r.private
	}
	return openFile(root, p.File)
}

// OpenStatic は公開ディレクトリ内の静的ファイルを開く。
// nameはスラッシュ区切りの相対パス。".."や"."で始まる要素を含むパス、ディレクトリは
// model.ErrNotFoundを返す。呼び出し元がCloseすること。
func (r *Resolver) OpenStatic(name string) (*os.File, fs.FileInfo, error) {
	if !fs.ValidPath(name) || name == "." || strings.Contains(name, "\\") {
		return nil, nil, fmt.Errorf("%w: %s", model.ErrNotFound, name)
	}
	for _, elem := range strings.Split(name, "/") {
		if strings.HasPrefix(elem, ".") {
			return nil, nil, fmt.Errorf("%w: %s", model.ErrNotFound, name)
		}
	}
	return openFile(r.public, name)
}

// openFile はroot内の通常ファイルを開く。
func openFile(root *os.Root, name string) (*os.File, fs.FileInfo, error) {
	if root == nil {
		return nil, nil, fmt.Errorf("%w: %s", model.ErrNotFound, name)
	}

	f, err := root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", model.ErrNotFound, name)
		}
		return nil, nil, fmt.Errorf("failed to open %s: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	// ディレクトリの一覧は返さない
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %s", model.ErrNotFound, name)
	}
	return f, info, nil
}

// Close はディレクトリのハンドルを解放する。
func (r *Resolver) Close() error {
	var errs []error
	if r.public != nil {
		errs = append(errs, r.public.Close())
	}
	if r.private != nil {
		errs = append(errs, r.private.Close())
	}
	return errors.Join(errs...)
}
