package jsexec

import (
	"fmt"
	"strconv"
)

// ResultGlobal is the window property an async run stores its JSON in while a
// poller waits for it.
func ResultGlobal(id string) string {
	return "window.__wvbridge_result_" + id
}

// WrapSync evaluates to the JSON text of {success, data|error}.
func WrapSync(prepared string) string {
	return fmt.Sprintf(`(function() {
  try {
    const __fn = function() {
%s
    };
    const __result = __fn();
    return JSON.stringify({ success: true, data: __result !== undefined ? __result : null });
  } catch (e) {
    return JSON.stringify({ success: false, error: (e && e.message) || String(e) });
  }
})()`, prepared)
}

// WrapPolled starts the snippet and evaluates to the stored JSON when it
// finished synchronously, or to {"pending":true} otherwise.
func WrapPolled(prepared, id string) string {
	global := ResultGlobal(id)
	return fmt.Sprintf(`(async function() {
  try {
    const __fn = async () => {
%s
    };
    const __result = await __fn();
    %s = JSON.stringify({ success: true, data: __result !== undefined ? __result : null });
  } catch (e) {
    %s = JSON.stringify({ success: false, error: (e && e.message) || String(e) });
  }
})(); %s || '{"pending":true}'`, prepared, global, global, global)
}

// PollExpression reads the stored result of an async run.
func PollExpression(id string) string {
	return ResultGlobal(id)
}

// CleanupExpression deletes the stored result of an async run.
func CleanupExpression(id string) string {
	return "delete " + ResultGlobal(id)
}

// WrapReported runs the snippet and reports its completion through the page
// runtime's reportResult hook.
func WrapReported(prepared, id string) string {
	quoted := strconv.Quote(id)
	return fmt.Sprintf(`(async function() {
  const __report = function(r) {
    const rt = window.__WVBRIDGE__;
    if (rt && typeof rt.reportResult === "function") { rt.reportResult(%s, r); }
  };
  try {
    const __fn = async () => {
%s
    };
    const __result = await __fn();
    __report({ success: true, data: __result !== undefined ? __result : null });
  } catch (e) {
    __report({ success: false, error: (e && e.message) || String(e) });
  }
})();`, quoted, prepared)
}
