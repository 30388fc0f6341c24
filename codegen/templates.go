package codegen

import (
	"strings"
	"text/template"
)

var templates = template.Must(template.New("cexi").Parse(`
{{- define "header" -}}
#define CX_RUNTIME_ABI "{{.ABI}}"
#include "cexi.h"
{{- end}}

{{- define "error" -}}
static cx_object* {{.}};
{{- end}}

{{- define "unpack" -}}
{{range .Locals}}    {{.}};
{{end}}
    if (!cx_parse_tuple(args, "{{.Format}}"{{range .Refs}}, &{{.}}{{end}}))
        return NULL;
{{- end}}

{{- define "function" -}}
{{.Prefix}}{{.Return}}
{{.Name}}({{.Params}})
{
{{.Body}}
}
{{- end}}

{{- define "managed" -}}
static {{.Return}}
__folded_{{.Name}}({{.Params}})
{
{{.Body}}
}

static cx_object*
{{.Name}}(cx_object* self, cx_object* args)
{
    (void)self;
{{template "unpack" .Unpack}}

{{.Tail}}
}
{{- end}}

{{- define "managed_multi" -}}
static cx_object*
__pack_{{.Name}}({{.PackParams}})
{
    return cx_build_tuple("{{.PackFormat}}"{{range .PackNames}}, {{.}}{{end}});
}

static cx_object*
{{.Name}}(cx_object* self, cx_object* args)
{
    (void)self;
{{template "unpack" .Unpack}}

#define return(...) return __pack_{{.Name}}(__VA_ARGS__)
{{.Body}}
#undef return
}
{{- end}}

{{- define "raw" -}}
static cx_object*
{{.Name}}(cx_object* self, cx_object* args)
{
{{.Body}}
}
{{- end}}

{{- define "capture" -}}
static cx_object* {{.Slot}} = NULL;

static cx_object*
{{.Name}}(cx_object* self, cx_object* args)
{
    cx_object* temp = NULL;

    (void)self;
    if ({{.Slot}})
        return cx_none();

    if (!cx_parse_tuple(args, "O:{{.Name}}", &temp)) {
        cx_err_set(cx_ImportError, "cannot capture callback");
        return NULL;
    }

    if (!cx_callable_check(temp)) {
        cx_err_set(cx_TypeError, "parameter must be callable");
        return NULL;
    }

    cx_incref(temp);
    {{.Slot}} = temp;
    return cx_none();
}
{{- end}}

{{- define "dispatch" -}}
int
{{.Name}}({{.Params}})
{
    cx_object* result = NULL;

    if (!{{.Slot}})
        return 1;

    if (!(result = cx_call_function({{.Slot}}, "{{.InFormat}}"{{range .InNames}}, {{.}}{{end}})))
        return 2;

    if (!cx_parse_tuple(result, "{{.OutFormat}}"{{range .OutNames}}, {{.}}{{end}})) {
        cx_decref(result);
        return 3;
    }
{{if .Release}}
    cx_decref(result);
{{- end}}
    return 0;
}
{{- end}}

{{- define "method_table" -}}
static cx_method_def {{.Name}}[] = {
{{- range .Entries}}
    {{.}},
{{- end}}
    {NULL, NULL, 0, NULL}
};
{{- end}}

{{- define "module_definition" -}}
static cx_module_def {{.Module}} = {
    "{{.Name}}",
    NULL,
    {{.Table}}
};
{{- end}}

{{- define "module_init" -}}
CX_EXPORT cx_module*
cxinit_{{.Name}}(void)
{
    cx_module* m = cx_module_create(&{{.Module}});
    if (!m)
        return NULL;

    {{.Error}} = cx_err_new_exception("{{.Name}}.error");
    if (cx_module_add_error(m, {{.Error}}) < 0) {
        cx_decref({{.Error}});
        {{.Error}} = NULL;
        cx_module_free(m);
        return NULL;
    }
{{if .WithRevision}}
#define CX_CODE_REVISION {{.Revision}}ULL
    cx_module_set_revision(m, CX_CODE_REVISION);
{{end}}
    return m;
}
{{- end}}

{{- define "module" -}}
{{.Header}}

{{.Error}}

{{.Code}}


{{.MethodTable}}

{{.ModuleDefinition}}

{{.ModuleInit}}
{{end}}
`))

func execute(name string, data any) (string, error) {
	var sb strings.Builder
	if err := templates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
