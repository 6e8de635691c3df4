package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/steerworks/steer/internal/errors"
	"github.com/steerworks/steer/internal/template"
	"github.com/steerworks/steer/internal/types"
	"github.com/steerworks/steer/internal/validation"
)

// execBash renders the command against the context and runs it under
// sh -c. Stdout is parsed into a structured record (JSON object,
// key=value lines, or raw text) and checked against the declared
// schema.
func (r *run) execBash(ctx context.Context, step *types.Step, runCtx map[string]any) (map[string]any, error) {
	command, err := template.Render(step.Bash, runCtx)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", step.Name, err)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if r.e.workDir != "" {
		cmd.Dir = r.e.workDir
	}
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if runErr != nil || exitCode != 0 {
		return nil, errors.StepCommandFailed(step.Name, exitCode, strings.TrimSpace(stderr.String()))
	}

	record := validation.ParseCommandOutput(stdout.String())
	if err := validation.ValidateRecord(step.Name, step.Output, record); err != nil {
		return nil, err
	}
	return validation.CoerceRecord(step.Output, record), nil
}

// execScript runs the body as a sandboxed Lua chunk. The context is
// exposed as a read-only global table `ctx`; the chunk's return value
// becomes the step output: a table is a record, a string lands under
// the implicit output field, nothing yields an empty record.
func (r *run) execScript(step *types.Step, runCtx map[string]any) (map[string]any, error) {
	body, err := template.Render(step.Script, runCtx)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", step.Name, err)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openSafeLibs(L)

	L.SetGlobal("ctx", goToLua(L, map[string]any(runCtx)))

	if err := L.DoString(body); err != nil {
		return nil, errors.StepScriptFailed(step.Name, err)
	}

	var record map[string]any
	ret := L.Get(-1)
	switch v := ret.(type) {
	case *lua.LTable:
		converted := luaToGo(v)
		m, ok := converted.(map[string]any)
		if !ok {
			return nil, errors.StepScriptFailed(step.Name,
				fmt.Errorf("script returned a list, expected a table of named fields"))
		}
		record = m
	case lua.LString:
		record = map[string]any{validation.RawField: string(v)}
	default:
		record = map[string]any{}
	}

	if err := validation.ValidateRecord(step.Name, step.Output, record); err != nil {
		return nil, err
	}
	return validation.CoerceRecord(step.Output, record), nil
}

// openSafeLibs loads only deterministic, side-effect-free standard
// libraries into the Lua state.
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil)

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// goToLua converts a Go context value into a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			L.SetTable(tbl, lua.LNumber(i+1), goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua value back into a Go value. A table with only
// consecutive integer keys becomes a list, otherwise a map.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LTable:
		listLen := val.Len()
		if listLen > 0 {
			list := make([]any, 0, listLen)
			isList := true
			val.ForEach(func(k, item lua.LValue) {
				if _, ok := k.(lua.LNumber); !ok {
					isList = false
				}
			})
			if isList {
				for i := 1; i <= listLen; i++ {
					list = append(list, luaToGo(val.RawGetInt(i)))
				}
				return list
			}
		}
		m := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			m[k.String()] = luaToGo(item)
		})
		return m
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	default:
		return nil
	}
}
