package resource

import (
	"github.com/tphakala/audiostream/internal/jobqueue"
)

// Node jobs run in the node's reservation order.

type loadNodeJob struct {
	node  *assetNode
	path  string
	flags Flags
}

func (loadNodeJob) Kind() jobqueue.Kind              { return jobqueue.KindLoadAssetNode }
func (j loadNodeJob) ExecOrder() *jobqueue.ExecOrder { return &j.node.order }

type pageNodeJob struct {
	node *assetNode
}

func (pageNodeJob) Kind() jobqueue.Kind              { return jobqueue.KindPageAssetNode }
func (j pageNodeJob) ExecOrder() *jobqueue.ExecOrder { return &j.node.order }

type freeNodeJob struct {
	node *assetNode
}

func (freeNodeJob) Kind() jobqueue.Kind              { return jobqueue.KindFreeAssetNode }
func (j freeNodeJob) ExecOrder() *jobqueue.ExecOrder { return &j.node.order }

// Buffer jobs share the node's order so they run after its load.

type loadBufferJob struct {
	src *BufferedSource
}

func (loadBufferJob) Kind() jobqueue.Kind              { return jobqueue.KindLoadBuffer }
func (j loadBufferJob) ExecOrder() *jobqueue.ExecOrder { return &j.src.node.order }

type freeBufferJob struct {
	src *BufferedSource
}

func (freeBufferJob) Kind() jobqueue.Kind              { return jobqueue.KindFreeBuffer }
func (j freeBufferJob) ExecOrder() *jobqueue.ExecOrder { return &j.src.node.order }

// Stream jobs run in the stream's own order.

type loadStreamJob struct {
	src *StreamingSource
}

func (loadStreamJob) Kind() jobqueue.Kind              { return jobqueue.KindLoadStream }
func (j loadStreamJob) ExecOrder() *jobqueue.ExecOrder { return &j.src.order }

type pageStreamJob struct {
	src  *StreamingSource
	page int
}

func (pageStreamJob) Kind() jobqueue.Kind              { return jobqueue.KindPageStream }
func (j pageStreamJob) ExecOrder() *jobqueue.ExecOrder { return &j.src.order }

type seekStreamJob struct {
	src   *StreamingSource
	frame uint64
}

func (seekStreamJob) Kind() jobqueue.Kind              { return jobqueue.KindSeekStream }
func (j seekStreamJob) ExecOrder() *jobqueue.ExecOrder { return &j.src.order }

type freeStreamJob struct {
	src *StreamingSource
}

func (freeStreamJob) Kind() jobqueue.Kind              { return jobqueue.KindFreeStream }
func (j freeStreamJob) ExecOrder() *jobqueue.ExecOrder { return &j.src.order }
