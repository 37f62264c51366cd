package threads

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

// AsyncVisualization 异步任务和线程状态的快照
type AsyncVisualization struct {
	Tasks   []AsyncTask  `json:"tasks" yaml:"tasks"`
	Threads []ThreadInfo `json:"threads" yaml:"threads"`
}

// GetAsyncVisualizationData 任务及其异步调用栈、线程状态
func (t *Tracker) GetAsyncVisualizationData() *AsyncVisualization {
	return &AsyncVisualization{
		Tasks:   t.Tasks(),
		Threads: t.Threads(),
	}
}

// Render 以表格形式输出
func (v *AsyncVisualization) Render(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "Async Tasks:"); err != nil {
		return err
	}
	tasks := tablewriter.NewWriter(w)
	tasks.Header("ID", "Name", "State", "Thread", "Depends On", "Async Stack")
	for _, task := range v.Tasks {
		thread := "-"
		if task.ThreadID != nil {
			thread = fmt.Sprint(*task.ThreadID)
		}
		frames := lo.Map(task.CallStack, func(f AsyncFrame, _ int) string {
			return fmt.Sprintf("%s - %s", f.FutureName, f.Location)
		})
		state := string(task.State)
		if task.Error != "" {
			state = fmt.Sprintf("%s(%s)", task.State, task.Error)
		}
		if err := tasks.Append([]string{
			fmt.Sprint(task.ID),
			task.Name,
			state,
			thread,
			joinIDs(task.Dependencies),
			strings.Join(frames, "\n"),
		}); err != nil {
			return err
		}
	}
	if err := tasks.Render(); err != nil {
		return err
	}

	if _, err := fmt.Fprintln(w, "Thread States:"); err != nil {
		return err
	}
	threads := tablewriter.NewWriter(w)
	threads.Header("ID", "Name", "State", "Held Locks", "Waiting Locks")
	for _, th := range v.Threads {
		if err := threads.Append([]string{
			fmt.Sprint(th.ID),
			th.Name,
			string(th.State),
			strings.Join(th.HeldLocks, ","),
			strings.Join(th.WaitingLocks, ","),
		}); err != nil {
			return err
		}
	}
	return threads.Render()
}

func (v *AsyncVisualization) String() string {
	var buf bytes.Buffer
	if err := v.Render(&buf); err != nil {
		return err.Error()
	}
	return buf.String()
}
