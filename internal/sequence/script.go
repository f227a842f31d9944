package sequence

// ScriptMeta holds user-editable metadata for a measurement sequence.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Script represents a single measurement sequence stored on disk.
type Script struct {
	ID       string     `json:"id"` // filename stem (no .lua)
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"` // raw Lua source (without header)
	FilePath string     `json:"-"`        // absolute path on disk
}
