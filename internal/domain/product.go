package domain

// ProductFile 描述一次扫描得到的主产品文件（例如 .tif；只做 stat，不读内容）。
//
// 不变量（实现必须遵守）：
// - AbsPath 必须是 clean + absolute
// - RelPath 相对扫描根目录（即 <path>）
type ProductFile struct {
	AbsPath string
	RelPath string
	Name    string // 含扩展名，保留原始大小写
	Base    string // filename without ext
	Ext     string // ".tif"（小写）
	Size    int64
	ModUnix int64
}
